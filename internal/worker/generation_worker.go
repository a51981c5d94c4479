package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/hibiken/asynq"

	"github.com/rankforge/api/internal/generation"
	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/service"
	"github.com/rankforge/api/internal/store"
)

// Generator produces the output of each job kind.
type Generator interface {
	GenerateArticle(ctx context.Context, req *generation.ArticleRequest) (*model.GeneratedArticle, error)
	GenerateKeywords(ctx context.Context, in model.KeywordJobInput, gctx model.GenerationContext, provider llm.ProviderConfig) (*model.KeywordSuggestionResult, error)
	GenerateCluster(ctx context.Context, in model.ClusterJobInput, gctx model.GenerationContext, provider llm.ProviderConfig) (*model.TopicClusterResult, error)
}

// ContentStore provides brand context and keeps finished articles.
type ContentStore interface {
	GenerationContext(ctx context.Context, websiteID string) (model.GenerationContext, error)
	CreateArticle(ctx context.Context, jobID string, in model.ArticleJobInput, a *model.GeneratedArticle) (string, error)
}

// GenerationWorker processes the tasks of every generation job kind
type GenerationWorker struct {
	jobs      *service.JobService
	content   ContentStore
	generator Generator
	provider  llm.ProviderConfig
	log       *logger.Logger
}

func NewGenerationWorker(jobs *service.JobService, content ContentStore, generator Generator, provider llm.ProviderConfig, log *logger.Logger) *GenerationWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &GenerationWorker{
		jobs:      jobs,
		content:   content,
		generator: generator,
		provider:  provider,
		log:       log.With("worker", "generation"),
	}
}

// Register mounts the worker on mux.
func (w *GenerationWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeArticle, w.ProcessTask)
	mux.HandleFunc(service.TaskTypeKeywords, w.ProcessTask)
	mux.HandleFunc(service.TaskTypeCluster, w.ProcessTask)
}

// ProcessTask claims the job named by the task and runs it to COMPLETED or
// FAILED. Tasks for jobs that are missing or not QUEUED are dropped.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	payload, err := service.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	job, err := w.jobs.Claim(ctx, payload.JobID)
	if errors.Is(err, store.ErrNotQueued) || errors.Is(err, store.ErrJobNotFound) {
		w.log.Info("skipping task", "job_id", payload.JobID, "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", payload.JobID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			msg := fmt.Sprintf("panic: %v", r)
			w.jobs.Fail(context.WithoutCancel(ctx), job.ID, msg)
			err = fmt.Errorf("%s: %w", msg, asynq.SkipRetry)
		}
	}()

	if err := w.run(ctx, job); err != nil {
		w.jobs.Fail(context.WithoutCancel(ctx), job.ID, err.Error())
		return fmt.Errorf("job %s failed: %v: %w", job.ID, err, asynq.SkipRetry)
	}
	return nil
}

func (w *GenerationWorker) run(ctx context.Context, job *model.GenerationJob) error {
	switch job.Kind {
	case model.JobKindArticle:
		return w.runArticle(ctx, job)
	case model.JobKindKeywords:
		var in model.KeywordJobInput
		if err := json.Unmarshal(job.Input, &in); err != nil {
			return fmt.Errorf("invalid input: %w", err)
		}
		gctx, err := w.content.GenerationContext(ctx, in.WebsiteID)
		if err != nil {
			return err
		}
		out, err := w.generator.GenerateKeywords(ctx, in, gctx, w.provider)
		if err != nil {
			return err
		}
		return w.jobs.Complete(ctx, job.ID, out, nil)
	case model.JobKindTopicCluster:
		var in model.ClusterJobInput
		if err := json.Unmarshal(job.Input, &in); err != nil {
			return fmt.Errorf("invalid input: %w", err)
		}
		gctx, err := w.content.GenerationContext(ctx, in.WebsiteID)
		if err != nil {
			return err
		}
		out, err := w.generator.GenerateCluster(ctx, in, gctx, w.provider)
		if err != nil {
			return err
		}
		return w.jobs.Complete(ctx, job.ID, out, nil)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (w *GenerationWorker) runArticle(ctx context.Context, job *model.GenerationJob) error {
	var in model.ArticleJobInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	gctx, err := w.content.GenerationContext(ctx, in.WebsiteID)
	if err != nil {
		return err
	}

	article, err := w.generator.GenerateArticle(ctx, &generation.ArticleRequest{
		JobID:    job.ID,
		Input:    in,
		Context:  gctx,
		Provider: w.provider,
		Progress: func(p model.Progress) {
			if err := w.jobs.UpdateProgress(ctx, job.ID, p); err != nil {
				w.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
			}
		},
	})
	if err != nil {
		return err
	}
	for _, warning := range article.Warnings {
		w.jobs.Warn(job.ID, warning)
	}

	articleID, err := w.content.CreateArticle(ctx, job.ID, in, article)
	if err != nil {
		return err
	}
	if err := w.jobs.Complete(ctx, job.ID, article, &articleID); err != nil {
		return err
	}

	if in.AutoPublish {
		ev := model.PublishEvent{ArticleID: articleID, SiteID: in.WebsiteID, Trigger: "auto"}
		if err := w.jobs.Publish(ctx, ev); err != nil {
			// the article is stored; publishing can be retried from the editor
			w.log.Error("failed to request publish", "job_id", job.ID, "article_id", articleID, "error", err)
		}
	}
	return nil
}
