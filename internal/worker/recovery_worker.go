package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/service"
)

// RecoveryWorker runs the periodic stuck-job sweep
type RecoveryWorker struct {
	jobs *service.JobService
	log  *logger.Logger
}

func NewRecoveryWorker(jobs *service.JobService, log *logger.Logger) *RecoveryWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &RecoveryWorker{jobs: jobs, log: log.With("worker", "recovery")}
}

func (w *RecoveryWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeRecover, w.ProcessTask)
}

func (w *RecoveryWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	report, err := w.jobs.RecoverStuckJobs(ctx)
	if err != nil {
		w.log.Error("recovery sweep failed", "error", err)
		return err
	}
	if n := len(report.Requeued) + len(report.Failed); n > 0 {
		w.log.Info("recovered stuck jobs", "requeued", report.Requeued, "failed", report.Failed)
	}
	return nil
}
