// Command articlectl is the operator CLI for the article service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rankforge/api/internal/config"
	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/service"
	"github.com/rankforge/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "articlectl",
		Short: "Operate the article generation service",
		Long: `articlectl talks to the same Redis and database as the server.

Examples:
  # Queue an article and follow it
  articlectl enqueue --keyword "crm for agencies" --website site-1 --length MEDIUM
  articlectl status 6f1c...

  # Run the stuck-job sweep once
  articlectl recover

  # Clean up a markdown file without calling a model
  articlectl repair draft.md --brand Acme --brand-url https://acme.com

  # Load a website, its links and existing articles
  articlectl site import acme.yaml`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRecoverCmd())
	rootCmd.AddCommand(newRepairCmd())
	rootCmd.AddCommand(newSiteCmd())

	return rootCmd
}

// env holds the connections a command opened.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	redis *redis.Client
	queue *asynq.Client
	jobs  *service.JobService
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Server.Env, "warn")
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	jobs := service.NewJobService(
		store.NewRedisJobStore(rdb, store.DefaultJobTTL),
		queue,
		nil,
		log,
		service.RecoveryConfig{
			StuckThreshold: cfg.Queue.StuckThreshold,
			MaxAutoRetries: cfg.Queue.MaxAutoRetries,
		},
	)
	return &env{cfg: cfg, log: log, redis: rdb, queue: queue, jobs: jobs}, nil
}

func (e *env) Close() {
	e.queue.Close()
	e.redis.Close()
	e.log.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
