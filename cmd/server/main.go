package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/rankforge/api/internal/client"
	"github.com/rankforge/api/internal/config"
	"github.com/rankforge/api/internal/generation"
	"github.com/rankforge/api/internal/handler"
	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/middleware"
	"github.com/rankforge/api/internal/observability"
	"github.com/rankforge/api/internal/service"
	"github.com/rankforge/api/internal/store"
	ws "github.com/rankforge/api/internal/websocket"
	"github.com/rankforge/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()

	ctx := context.Background()
	shutdownTracing := observability.Init(ctx, log, cfg.Otel, cfg.Server.Env)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", "error", err)
	}
	content := store.NewContentStore(db)

	validate := validator.New()

	hub := ws.NewHub(log)
	go hub.Run()

	jobService := service.NewJobService(
		store.NewRedisJobStore(redisClient, store.DefaultJobTTL),
		asynqClient,
		hub,
		log,
		service.RecoveryConfig{
			StuckThreshold: cfg.Queue.StuckThreshold,
			MaxAutoRetries: cfg.Queue.MaxAutoRetries,
		},
	)

	orchestrator, err := newOrchestrator(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build orchestrator", "error", err)
	}

	jobHandler := handler.NewJobHandler(jobService, validate)
	researchHandler := handler.NewResearchHandler(orchestrator, content, llm.ProviderConfig{}, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	generate := rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour)
	jobs.Post("/articles", generate, jobHandler.CreateArticle)
	jobs.Post("/keywords", generate, jobHandler.CreateKeywords)
	jobs.Post("/clusters", generate, jobHandler.CreateCluster)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)

	api.Post("/research/preview", rateLimiter.PreviewLimit(cfg.RateLimit.PreviewPerMin), researchHandler.Preview)

	app.Use("/ws", authMiddleware.AuthenticateQuery(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", func(c *fiber.Ctx) error {
		if _, err := jobService.Get(c.UserContext(), c.Params("jobId")); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "Job not found")
			}
			return err
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Asynq worker server and sweep scheduler
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues: map[string]int{
			service.QueueGeneration:  8,
			service.QueueMaintenance: 2,
		},
		Logger: log.SugaredLogger,
	})
	mux := asynq.NewServeMux()
	worker.NewGenerationWorker(jobService, content, orchestrator, llm.ProviderConfig{}, log).Register(mux)
	worker.NewRecoveryWorker(jobService, log).Register(mux)
	if err := srv.Start(mux); err != nil {
		log.Fatal("failed to start worker server", "error", err)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC, Logger: log.SugaredLogger})
	if _, err := scheduler.Register(cfg.Queue.SweepSpec, service.NewRecoverTask(),
		asynq.Queue(service.QueueMaintenance), asynq.MaxRetry(0), asynq.Unique(time.Minute)); err != nil {
		log.Fatal("failed to schedule recovery sweep", "spec", cfg.Queue.SweepSpec, "error", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start scheduler", "error", err)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
	}

	scheduler.Shutdown()
	srv.Shutdown()
	hub.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Warn("failed to flush traces", "error", err)
	}
}

func newOrchestrator(ctx context.Context, cfg *config.Config, log *logger.Logger) (*generation.Orchestrator, error) {
	var providers []llm.Provider
	for _, p := range []*client.OpenAIClient{
		client.NewOpenAIClient("groq", &cfg.Groq),
		client.NewOpenAIClient("openai", &cfg.OpenAI),
	} {
		if p.IsConfigured() {
			providers = append(providers, p)
		}
	}
	if cfg.Gemini.APIKey != "" {
		gemini, err := client.NewGeminiClient(ctx, &cfg.Gemini)
		if err != nil {
			return nil, err
		}
		providers = append(providers, gemini)
	}
	if len(providers) == 0 {
		log.Warn("no model provider configured; generation jobs will fail")
	}

	modelClient := llm.NewClient(cfg.LLM.DefaultProvider, providers,
		llm.WithRetry(cfg.LLM.MaxRetries, cfg.LLM.BackoffBase, cfg.LLM.BackoffCap),
		llm.WithLogger(log),
	)

	prompts, err := generation.LoadPrompts(cfg.Prompts.File)
	if err != nil {
		return nil, err
	}

	opts := []generation.Option{
		generation.WithLogger(log),
		generation.WithVerifier(client.NewPageClient()),
	}
	if cfg.Images.Enabled {
		r2, err := client.NewR2Client(ctx, &cfg.R2)
		if err != nil {
			log.Warn("image storage unavailable, images disabled", "error", err)
		} else if images := client.NewImageClient(&cfg.OpenAI, &cfg.Images, r2); images.IsConfigured() {
			opts = append(opts, generation.WithImages(images))
		}
	}
	return generation.NewOrchestrator(modelClient, prompts, opts...), nil
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
