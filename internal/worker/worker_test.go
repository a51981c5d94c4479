package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rankforge/api/internal/generation"
	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/service"
	"github.com/rankforge/api/internal/store"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (q *fakeQueue) last() *asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[len(q.tasks)-1]
}

func (q *fakeQueue) count(typ string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.Type() == typ {
			n++
		}
	}
	return n
}

type fakeContent struct {
	mu       sync.Mutex
	articles map[string]*model.GeneratedArticle
}

func (c *fakeContent) GenerationContext(_ context.Context, websiteID string) (model.GenerationContext, error) {
	if websiteID != "site-1" {
		return model.GenerationContext{}, fmt.Errorf("%w: %s", store.ErrWebsiteNotFound, websiteID)
	}
	return model.GenerationContext{WebsiteID: websiteID, BrandName: "Acme"}, nil
}

func (c *fakeContent) CreateArticle(_ context.Context, jobID string, _ model.ArticleJobInput, a *model.GeneratedArticle) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.articles == nil {
		c.articles = map[string]*model.GeneratedArticle{}
	}
	c.articles[jobID] = a
	return "article-" + jobID, nil
}

type fakeGenerator struct {
	err   error
	panic bool
}

func (g *fakeGenerator) GenerateArticle(_ context.Context, req *generation.ArticleRequest) (*model.GeneratedArticle, error) {
	if g.panic {
		panic("nil outline")
	}
	if g.err != nil {
		return nil, g.err
	}
	for i, st := range model.Stages {
		req.Progress(model.Progress{Step: st, StepIndex: i + 1, TotalSteps: len(model.Stages), Percentage: (i + 1) * 100 / len(model.Stages)})
	}
	return &model.GeneratedArticle{Title: "CRM", Body: "# CRM\n", Warnings: []string{"featured image failed: boom"}}, nil
}

func (g *fakeGenerator) GenerateKeywords(_ context.Context, in model.KeywordJobInput, _ model.GenerationContext, _ llm.ProviderConfig) (*model.KeywordSuggestionResult, error) {
	return &model.KeywordSuggestionResult{Keywords: []model.KeywordSuggestion{{Keyword: in.SeedKeyword + " tools"}}}, nil
}

func (g *fakeGenerator) GenerateCluster(_ context.Context, in model.ClusterJobInput, _ model.GenerationContext, _ llm.ProviderConfig) (*model.TopicClusterResult, error) {
	return nil, errors.New("not scripted")
}

type fixture struct {
	jobs    *service.JobService
	queue   *fakeQueue
	content *fakeContent
	gen     *fakeGenerator
	worker  *GenerationWorker
}

func newFixture() *fixture {
	f := &fixture{queue: &fakeQueue{}, content: &fakeContent{}, gen: &fakeGenerator{}}
	f.jobs = service.NewJobService(store.NewMemoryJobStore(), f.queue, nil, nil, service.RecoveryConfig{})
	f.worker = NewGenerationWorker(f.jobs, f.content, f.gen, llm.ProviderConfig{}, nil)
	return f
}

func (f *fixture) enqueue(t *testing.T, kind model.JobKind, input any) (string, *asynq.Task) {
	t.Helper()
	resp, err := f.jobs.Enqueue(context.Background(), kind, input)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return resp.JobID, f.queue.last()
}

func TestProcessArticleTask(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, task := f.enqueue(t, model.JobKindArticle, model.ArticleJobInput{
		Keyword: "crm", WebsiteID: "site-1", ContentLength: model.ContentLengthMedium, AutoPublish: true,
	})

	if err := f.worker.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	job, err := f.jobs.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobStatusCompleted || job.Progress != 100 {
		t.Errorf("job = %+v", job)
	}
	if job.ArticleID == nil || *job.ArticleID != "article-"+id {
		t.Errorf("ArticleID = %v", job.ArticleID)
	}
	if f.content.articles[id] == nil {
		t.Error("article not stored")
	}
	if n := f.queue.count(service.TaskTypePublish); n != 1 {
		t.Fatalf("publish tasks = %d, want 1", n)
	}
	var ev model.PublishEvent
	if err := json.Unmarshal(f.queue.last().Payload(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ArticleID != *job.ArticleID || ev.SiteID != "site-1" || ev.Trigger != "auto" {
		t.Errorf("publish event = %+v", ev)
	}

	// a duplicate delivery is a no-op
	if err := f.worker.ProcessTask(ctx, task); err != nil {
		t.Errorf("duplicate ProcessTask() error = %v", err)
	}
	if n := f.queue.count(service.TaskTypePublish); n != 1 {
		t.Errorf("publish tasks after duplicate = %d", n)
	}
}

func TestProcessTaskFailures(t *testing.T) {
	tests := []struct {
		name    string
		website string
		gen     fakeGenerator
		wantErr string
	}{
		{name: "missing website", website: "nope", wantErr: "website not found"},
		{name: "generator error", website: "site-1", gen: fakeGenerator{err: errors.New("outline stage: parse failed")}, wantErr: "outline stage"},
		{name: "panic", website: "site-1", gen: fakeGenerator{panic: true}, wantErr: "panic: nil outline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			*f.gen = tt.gen
			id, task := f.enqueue(t, model.JobKindArticle, model.ArticleJobInput{
				Keyword: "crm", WebsiteID: tt.website, ContentLength: model.ContentLengthShort,
			})

			err := f.worker.ProcessTask(context.Background(), task)
			if !errors.Is(err, asynq.SkipRetry) {
				t.Errorf("ProcessTask() error = %v, want SkipRetry", err)
			}
			job, _ := f.jobs.Get(context.Background(), id)
			if job.Status != model.JobStatusFailed || job.Error == nil || !strings.Contains(*job.Error, tt.wantErr) {
				t.Errorf("job = %+v, want error containing %q", job, tt.wantErr)
			}
			if len(f.content.articles) != 0 {
				t.Error("failed job stored an article")
			}
		})
	}
}

func TestProcessKeywordAndClusterTasks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	kwID, kwTask := f.enqueue(t, model.JobKindKeywords, model.KeywordJobInput{WebsiteID: "site-1", SeedKeyword: "crm", Count: 3})
	if err := f.worker.ProcessTask(ctx, kwTask); err != nil {
		t.Fatalf("keywords ProcessTask() error = %v", err)
	}
	job, _ := f.jobs.GetResult(ctx, kwID)
	var out model.KeywordSuggestionResult
	if job == nil || json.Unmarshal(job.Output, &out) != nil || out.Keywords[0].Keyword != "crm tools" {
		t.Fatalf("keyword job = %+v", job)
	}

	clID, clTask := f.enqueue(t, model.JobKindTopicCluster, model.ClusterJobInput{WebsiteID: "site-1", PillarKeyword: "crm", ClusterSize: 5})
	if err := f.worker.ProcessTask(ctx, clTask); err == nil {
		t.Fatal("cluster ProcessTask() succeeded")
	}
	job, _ = f.jobs.Get(ctx, clID)
	if job.Status != model.JobStatusFailed {
		t.Errorf("cluster job status = %s", job.Status)
	}
}

func TestRecoveryWorker(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, _ := f.enqueue(t, model.JobKindArticle, model.ArticleJobInput{Keyword: "crm", WebsiteID: "site-1", ContentLength: model.ContentLengthShort})
	if _, err := f.jobs.Claim(ctx, id); err != nil {
		t.Fatal(err)
	}

	// nothing is stuck yet
	w := NewRecoveryWorker(f.jobs, nil)
	if err := w.ProcessTask(ctx, service.NewRecoverTask()); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	job, _ := f.jobs.Get(ctx, id)
	if job.Status != model.JobStatusProcessing {
		t.Errorf("Status = %s, want PROCESSING", job.Status)
	}
	if job.StartedAt == nil || time.Since(*job.StartedAt) > time.Minute {
		t.Errorf("StartedAt = %v", job.StartedAt)
	}
}
