package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/store"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, t := range q.tasks {
		out = append(out, t.Type())
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []int
	complete int
	errors   []string
	warnings []string
}

func (n *recordingNotifier) BroadcastWarning(_ string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, message)
}

func (n *recordingNotifier) BroadcastProgress(_ string, _ model.JobStatus, p model.Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, p.Percentage)
}

func (n *recordingNotifier) BroadcastComplete(string, *string, any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.complete++
}

func (n *recordingNotifier) BroadcastError(_ string, _ string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func newTestService(t *testing.T) (*JobService, *store.MemoryJobStore, *fakeQueue, *recordingNotifier) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	queue := &fakeQueue{}
	notifier := &recordingNotifier{}
	svc := NewJobService(jobs, queue, notifier, nil, RecoveryConfig{StuckThreshold: 10 * time.Minute, MaxAutoRetries: 2})
	return svc, jobs, queue, notifier
}

func enqueueArticle(t *testing.T, svc *JobService) string {
	t.Helper()
	resp, err := svc.Enqueue(context.Background(), model.JobKindArticle, model.ArticleJobInput{
		Keyword: "crm", WebsiteID: "site-1", ContentLength: model.ContentLengthMedium,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return resp.JobID
}

func TestEnqueueStoresJobAndDispatchesTask(t *testing.T) {
	svc, _, queue, _ := newTestService(t)
	id := enqueueArticle(t, svc)

	job, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobStatusQueued || job.Kind != model.JobKindArticle {
		t.Errorf("job = %+v", job)
	}
	if got := queue.types(); len(got) != 1 || got[0] != TaskTypeArticle {
		t.Fatalf("tasks = %v", got)
	}
	payload, err := ParseTaskPayload(queue.tasks[0])
	if err != nil || payload.JobID != id {
		t.Errorf("payload = %+v, err = %v", payload, err)
	}
}

func TestEnqueueFailureMarksJobFailed(t *testing.T) {
	svc, _, queue, notifier := newTestService(t)
	queue.err = errors.New("redis down")

	_, err := svc.Enqueue(context.Background(), model.JobKindKeywords, model.KeywordJobInput{WebsiteID: "s", SeedKeyword: "crm", Count: 5})
	if err == nil {
		t.Fatal("Enqueue() succeeded with a broken queue")
	}
	if len(notifier.errors) != 1 || !strings.Contains(notifier.errors[0], "redis down") {
		t.Errorf("job not failed: %v", notifier.errors)
	}
}

func TestLifecycle(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()
	id := enqueueArticle(t, svc)

	if _, err := svc.GetResult(ctx, id); !errors.Is(err, ErrJobNotCompleted) {
		t.Errorf("GetResult() before completion error = %v", err)
	}
	if _, err := svc.Claim(ctx, id); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := svc.Claim(ctx, id); !errors.Is(err, store.ErrNotQueued) {
		t.Errorf("second Claim() error = %v, want ErrNotQueued", err)
	}

	for _, pct := range []int{10, 40, 25, 100} {
		if err := svc.UpdateProgress(ctx, id, model.Progress{Step: model.StageDraft, Percentage: pct}); err != nil {
			t.Fatalf("UpdateProgress(%d) error = %v", pct, err)
		}
	}
	status, _ := svc.GetStatus(ctx, id)
	if status.Progress != 99 || status.CurrentStep != string(model.StageDraft) {
		t.Errorf("status = %+v", status)
	}
	want := []int{10, 40, 40, 99}
	for i, p := range notifier.progress {
		if p != want[i] {
			t.Errorf("broadcast progress = %v, want %v", notifier.progress, want)
			break
		}
	}

	articleID := "article-1"
	if err := svc.Complete(ctx, id, map[string]string{"title": "CRM"}, &articleID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	job, err := svc.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if job.Progress != 100 || job.ArticleID == nil || *job.ArticleID != articleID || job.CompletedAt == nil {
		t.Errorf("job = %+v", job)
	}
	var out map[string]string
	if err := json.Unmarshal(job.Output, &out); err != nil || out["title"] != "CRM" {
		t.Errorf("output = %s", job.Output)
	}

	// progress after completion is dropped and failing is a no-op
	if err := svc.UpdateProgress(ctx, id, model.Progress{Percentage: 5}); err != nil {
		t.Errorf("late UpdateProgress() error = %v", err)
	}
	svc.Fail(ctx, id, "late failure")
	job, _ = svc.Get(ctx, id)
	if job.Status != model.JobStatusCompleted {
		t.Errorf("Status = %s after late Fail()", job.Status)
	}
	if notifier.complete != 1 || len(notifier.errors) != 0 {
		t.Errorf("notifier = %+v", notifier)
	}
}

func TestFailStoresMessage(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()
	id := enqueueArticle(t, svc)
	if _, err := svc.Claim(ctx, id); err != nil {
		t.Fatal(err)
	}
	svc.Fail(ctx, id, "website site-1 not found")

	job, _ := svc.Get(ctx, id)
	if job.Status != model.JobStatusFailed || job.Error == nil || *job.Error != "website site-1 not found" {
		t.Errorf("job = %+v", job)
	}
	if _, err := svc.GetResult(ctx, id); !errors.Is(err, ErrJobNotCompleted) {
		t.Errorf("GetResult() of failed job error = %v", err)
	}
	if len(notifier.errors) != 1 {
		t.Errorf("errors broadcast = %v", notifier.errors)
	}
}

func TestRetryCount(t *testing.T) {
	s := func(v string) *string { return &v }
	tests := []struct {
		in   *string
		want int
	}{
		{nil, 0},
		{s("provider timeout"), 0},
		{s("[auto-retry 1/2] stuck in processing"), 1},
		{s("[auto-retry 2/2] stuck in processing"), 2},
	}
	for _, tt := range tests {
		if got := RetryCount(tt.in); got != tt.want {
			t.Errorf("RetryCount(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRecoverStuckJobs(t *testing.T) {
	svc, jobs, queue, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	fresh := enqueueArticle(t, svc)
	first := enqueueArticle(t, svc)
	exhausted := enqueueArticle(t, svc)

	claimAt := func(id string, at time.Time, errText string) {
		t.Helper()
		if _, err := store.Claim(ctx, jobs, id, at); err != nil {
			t.Fatal(err)
		}
		if errText == "" {
			return
		}
		if _, err := jobs.Update(ctx, id, func(j *model.GenerationJob) error {
			j.Error = &errText
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	claimAt(fresh, now.Add(-time.Minute), "")
	claimAt(first, now.Add(-15*time.Minute), "")
	claimAt(exhausted, now.Add(-30*time.Minute), "[auto-retry 2/2] stuck in processing since earlier, requeued")
	dispatched := len(queue.types())

	report, err := svc.RecoverStuckJobs(ctx)
	if err != nil {
		t.Fatalf("RecoverStuckJobs() error = %v", err)
	}
	if len(report.Requeued) != 1 || report.Requeued[0] != first {
		t.Errorf("Requeued = %v, want [%s]", report.Requeued, first)
	}
	if len(report.Failed) != 1 || report.Failed[0] != exhausted {
		t.Errorf("Failed = %v, want [%s]", report.Failed, exhausted)
	}

	job, _ := jobs.Get(ctx, first)
	if job.Status != model.JobStatusQueued || job.StartedAt != nil || RetryCount(job.Error) != 1 {
		t.Errorf("requeued job = %+v", job)
	}
	if got := len(queue.types()); got != dispatched+1 {
		t.Errorf("dispatched %d tasks during sweep, want 1", got-dispatched)
	}

	job, _ = jobs.Get(ctx, exhausted)
	if job.Status != model.JobStatusFailed || !strings.Contains(*job.Error, "permanently failed") {
		t.Errorf("exhausted job = %+v", job)
	}

	job, _ = jobs.Get(ctx, fresh)
	if job.Status != model.JobStatusProcessing {
		t.Errorf("fresh job status = %s", job.Status)
	}

	// a requeued job keeps its marker through the next claim
	if _, err := svc.Claim(ctx, first); err != nil {
		t.Fatal(err)
	}
	job, _ = jobs.Get(ctx, first)
	if RetryCount(job.Error) != 1 {
		t.Errorf("marker lost on claim: %v", job.Error)
	}
}

func TestPublishEnqueuesTask(t *testing.T) {
	svc, _, queue, _ := newTestService(t)
	if err := svc.Publish(context.Background(), model.PublishEvent{ArticleID: "a", SiteID: "s", Trigger: "auto"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := queue.types(); len(got) != 1 || got[0] != TaskTypePublish {
		t.Errorf("tasks = %v", got)
	}
	var ev model.PublishEvent
	if err := json.Unmarshal(queue.tasks[0].Payload(), &ev); err != nil || ev.Trigger != "auto" {
		t.Errorf("payload = %s", queue.tasks[0].Payload())
	}
}
