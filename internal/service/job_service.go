package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/store"
	"github.com/rankforge/api/pkg/response"
)

// ErrJobNotCompleted is returned when a result is requested before the job finished.
var ErrJobNotCompleted = errors.New("job not completed")

var errSkip = errors.New("skip")

// Enqueuer is the part of asynq.Client the service uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier receives job events, typically to push them to websocket subscribers.
type Notifier interface {
	BroadcastProgress(jobID string, status model.JobStatus, p model.Progress)
	BroadcastComplete(jobID string, articleID *string, result any)
	BroadcastError(jobID string, code, message string)
	BroadcastWarning(jobID, message string)
}

// RecoveryConfig bounds the stuck-job sweep.
type RecoveryConfig struct {
	StuckThreshold time.Duration
	MaxAutoRetries int
}

// JobService owns the job lifecycle: QUEUED -> PROCESSING -> COMPLETED or FAILED.
type JobService struct {
	jobs     store.JobStore
	queue    Enqueuer
	notifier Notifier
	log      *logger.Logger
	recovery RecoveryConfig
	now      func() time.Time
}

func NewJobService(jobs store.JobStore, queue Enqueuer, notifier Notifier, log *logger.Logger, recovery RecoveryConfig) *JobService {
	if log == nil {
		log = logger.Nop()
	}
	if recovery.StuckThreshold <= 0 {
		recovery.StuckThreshold = 10 * time.Minute
	}
	if recovery.MaxAutoRetries <= 0 {
		recovery.MaxAutoRetries = 2
	}
	return &JobService{
		jobs:     jobs,
		queue:    queue,
		notifier: notifier,
		log:      log.With("service", "JobService"),
		recovery: recovery,
		now:      time.Now,
	}
}

// Enqueue stores a new QUEUED job for input and dispatches its task.
func (s *JobService) Enqueue(ctx context.Context, kind model.JobKind, input any) (*model.EnqueueResponse, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	job := &model.GenerationJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    model.JobStatusQueued,
		Input:     payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := s.dispatch(ctx, job); err != nil {
		s.Fail(ctx, job.ID, err.Error())
		return nil, err
	}
	s.log.Info("job enqueued", "job_id", job.ID, "kind", kind)

	return &model.EnqueueResponse{
		JobID:     job.ID,
		Kind:      kind,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

func (s *JobService) dispatch(ctx context.Context, job *model.GenerationJob) error {
	task, err := newJobTask(job)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	// retries are owned by the recovery sweep
	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueGeneration),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	return s.jobs.Get(ctx, id)
}

// GetStatus returns the external view of a job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.StatusResponse(), nil
}

// GetResult returns a completed job. FAILED and unfinished jobs yield
// ErrJobNotCompleted.
func (s *JobService) GetResult(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrJobNotCompleted, job.Status)
	}
	return job, nil
}

// Claim starts a processing attempt. It fails with store.ErrNotQueued unless
// the job is exactly QUEUED.
func (s *JobService) Claim(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := store.Claim(ctx, s.jobs, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Info("job claimed", "job_id", id, "kind", job.Kind)
	return job, nil
}

// UpdateProgress records a stage report. Progress never moves backwards within
// an attempt and reports for jobs no longer PROCESSING are dropped.
func (s *JobService) UpdateProgress(ctx context.Context, id string, p model.Progress) error {
	job, err := s.jobs.Update(ctx, id, func(j *model.GenerationJob) error {
		if j.Status != model.JobStatusProcessing {
			return errSkip
		}
		if p.Percentage > j.Progress {
			j.Progress = min(p.Percentage, 99)
		}
		j.CurrentStep = string(p.Step)
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.notifier != nil {
		p.Percentage = job.Progress
		s.notifier.BroadcastProgress(id, job.Status, p)
	}
	return nil
}

// Complete stores the output and marks the job COMPLETED.
func (s *JobService) Complete(ctx context.Context, id string, output any, articleID *string) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = s.jobs.Update(ctx, id, func(j *model.GenerationJob) error {
		if j.Status != model.JobStatusProcessing {
			return fmt.Errorf("cannot complete job in status %s", j.Status)
		}
		now := s.now().UTC()
		j.Status = model.JobStatusCompleted
		j.Progress = 100
		j.CurrentStep = "completed"
		j.Output = data
		j.ArticleID = articleID
		j.Error = nil
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("job completed", "job_id", id)
	if s.notifier != nil {
		s.notifier.BroadcastComplete(id, articleID, json.RawMessage(data))
	}
	return nil
}

// Fail marks the job FAILED with msg stored verbatim. Failing a job that
// already finished is a no-op.
func (s *JobService) Fail(ctx context.Context, id, msg string) {
	_, err := s.jobs.Update(ctx, id, func(j *model.GenerationJob) error {
		if j.Status.Terminal() {
			return errSkip
		}
		now := s.now().UTC()
		j.Status = model.JobStatusFailed
		j.Error = &msg
		j.CompletedAt = &now
		return nil
	})
	if errors.Is(err, errSkip) {
		return
	}
	if err != nil {
		s.log.Error("failed to mark job failed", "job_id", id, "error", err)
		return
	}
	s.log.Warn("job failed", "job_id", id, "error", msg)
	if s.notifier != nil {
		s.notifier.BroadcastError(id, response.CodeJobFailed, msg)
	}
}

// Warn forwards a non-fatal generation warning to subscribers.
func (s *JobService) Warn(jobID, msg string) {
	if s.notifier != nil {
		s.notifier.BroadcastWarning(jobID, msg)
	}
}

// Publish hands a finished article to the publish queue.
func (s *JobService) Publish(ctx context.Context, ev model.PublishEvent) error {
	task, err := newPublishTask(ev)
	if err != nil {
		return fmt.Errorf("failed to create publish task: %w", err)
	}
	if _, err := s.queue.EnqueueContext(ctx, task, asynq.Queue(QueuePublish), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("failed to enqueue publish task: %w", err)
	}
	s.log.Info("publish requested", "article_id", ev.ArticleID, "site_id", ev.SiteID, "trigger", ev.Trigger)
	return nil
}

var retryMarkerRe = regexp.MustCompile(`\[auto-retry (\d+)/\d+\]`)

// RetryCount reads the auto-retry marker out of a job's error text.
func RetryCount(errText *string) int {
	if errText == nil {
		return 0
	}
	m := retryMarkerRe.FindStringSubmatch(*errText)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// RecoveryReport summarises one sweep.
type RecoveryReport struct {
	Requeued []string `json:"requeued"`
	Failed   []string `json:"failed"`
}

// RecoverStuckJobs requeues jobs that stayed in PROCESSING past the threshold
// until they reach the retry limit, then fails them for good.
func (s *JobService) RecoverStuckJobs(ctx context.Context) (*RecoveryReport, error) {
	now := s.now().UTC()
	stuck, err := s.jobs.Stuck(ctx, now.Add(-s.recovery.StuckThreshold))
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{}
	for _, candidate := range stuck {
		startedAt := candidate.StartedAt
		retries := RetryCount(candidate.Error)
		limit := s.recovery.MaxAutoRetries

		job, err := s.jobs.Update(ctx, candidate.ID, func(j *model.GenerationJob) error {
			// someone moved it on since the scan
			if j.Status != model.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Equal(*startedAt) {
				return errSkip
			}
			if retries < limit {
				msg := fmt.Sprintf("[auto-retry %d/%d] stuck in processing since %s, requeued",
					retries+1, limit, startedAt.Format(time.RFC3339))
				j.Status = model.JobStatusQueued
				j.Error = &msg
				j.StartedAt = nil
				j.Progress = 0
				j.CurrentStep = ""
				return nil
			}
			msg := fmt.Sprintf("[auto-retry %d/%d] permanently failed: stuck in processing after %d automatic retries",
				retries, limit, retries)
			j.Status = model.JobStatusFailed
			j.Error = &msg
			j.CompletedAt = &now
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			s.log.Error("failed to recover job", "job_id", candidate.ID, "error", err)
			continue
		}

		if job.Status == model.JobStatusFailed {
			report.Failed = append(report.Failed, job.ID)
			s.log.Warn("stuck job failed permanently", "job_id", job.ID, "retries", retries)
			if s.notifier != nil {
				s.notifier.BroadcastError(job.ID, response.CodeJobFailed, *job.Error)
			}
			continue
		}
		report.Requeued = append(report.Requeued, job.ID)
		s.log.Warn("stuck job requeued", "job_id", job.ID, "retry", retries+1, "max_retries", limit)
		if err := s.dispatch(ctx, job); err != nil {
			s.log.Error("failed to dispatch recovered job", "job_id", job.ID, "error", err)
		}
	}
	if len(stuck) > 0 {
		s.log.Info("recovery sweep finished", "requeued", len(report.Requeued), "failed", len(report.Failed))
	}
	return report, nil
}
