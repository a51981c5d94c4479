package service

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/rankforge/api/internal/model"
)

// Task types
const (
	TaskTypeArticle  = "article:generate"
	TaskTypeKeywords = "keywords:suggest"
	TaskTypeCluster  = "cluster:generate"
	TaskTypeRecover  = "jobs:recover"
	TaskTypePublish  = "article:publish"
)

// Queues
const (
	QueueGeneration  = "generation"
	QueueMaintenance = "maintenance"
	QueuePublish     = "publish"
)

// TaskPayload is the body of every generation task. The job record holds the
// input; the task only points at it.
type TaskPayload struct {
	JobID string `json:"jobId"`
}

var kindTaskTypes = map[model.JobKind]string{
	model.JobKindArticle:      TaskTypeArticle,
	model.JobKindKeywords:     TaskTypeKeywords,
	model.JobKindTopicCluster: TaskTypeCluster,
}

func newJobTask(job *model.GenerationJob) (*asynq.Task, error) {
	typ, ok := kindTaskTypes[job.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	data, err := json.Marshal(TaskPayload{JobID: job.ID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}

// ParseTaskPayload decodes a generation task body.
func ParseTaskPayload(t *asynq.Task) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return p, fmt.Errorf("task payload has no jobId")
	}
	return p, nil
}

// NewRecoverTask builds the periodic stuck-job sweep task.
func NewRecoverTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRecover, nil)
}

func newPublishTask(ev model.PublishEvent) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePublish, data), nil
}
