package model

import (
	"encoding/json"
	"time"
)

// GenerationJob represents a unit of scheduled generation work
type GenerationJob struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Status      JobStatus       `json:"status"`
	Input       json.RawMessage `json:"input"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	ArticleID   *string         `json:"articleId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// ArticleJobInput is the payload of an article generation job
type ArticleJobInput struct {
	KeywordID              string        `json:"keywordId" validate:"omitempty,max=64"`
	Keyword                string        `json:"keyword" validate:"required,min=2,max=200"`
	WebsiteID              string        `json:"websiteId" validate:"required"`
	ContentLength          ContentLength `json:"contentLength" validate:"required,oneof=SHORT MEDIUM LONG PILLAR"`
	IncludeImages          bool          `json:"includeImages"`
	IncludeFAQ             bool          `json:"includeFAQ"`
	IncludeProTips         bool          `json:"includeProTips"`
	IncludeTableOfContents bool          `json:"includeTableOfContents"`
	AutoPublish            bool          `json:"autoPublish"`
	CustomDirection        string        `json:"customDirection,omitempty" validate:"max=2000"`
}

// KeywordJobInput is the payload of a keyword suggestion job
type KeywordJobInput struct {
	WebsiteID   string `json:"websiteId" validate:"required"`
	SeedKeyword string `json:"seedKeyword" validate:"required,min=2,max=200"`
	Count       int    `json:"count" validate:"required,min=1,max=50"`
}

// ClusterJobInput is the payload of a topic cluster job
type ClusterJobInput struct {
	WebsiteID     string `json:"websiteId" validate:"required"`
	PillarKeyword string `json:"pillarKeyword" validate:"required,min=2,max=200"`
	ClusterSize   int    `json:"clusterSize" validate:"required,min=3,max=15"`
}

// EnqueueResponse is returned when a job is accepted
type EnqueueResponse struct {
	JobID     string    `json:"jobId"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is the external view of a job
type JobStatusResponse struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Status      JobStatus       `json:"status"`
	CurrentStep string          `json:"currentStep"`
	Progress    int             `json:"progress"`
	Error       *string         `json:"error,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	ArticleID   *string         `json:"articleId,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// StatusResponse converts a job into its external view.
func (j *GenerationJob) StatusResponse() *JobStatusResponse {
	return &JobStatusResponse{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		CurrentStep: j.CurrentStep,
		Progress:    j.Progress,
		Error:       j.Error,
		Output:      j.Output,
		ArticleID:   j.ArticleID,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Progress is reported by the orchestrator after each stage
type Progress struct {
	Step       Stage  `json:"step"`
	StepIndex  int    `json:"stepIndex"`
	TotalSteps int    `json:"totalSteps"`
	Message    string `json:"message"`
	Percentage int    `json:"percentage"`
}

// ProgressFunc receives stage progress synchronously.
type ProgressFunc func(Progress)

// PublishEvent is handed to the publish hook after an auto-publish job completes
type PublishEvent struct {
	ArticleID string `json:"articleId"`
	SiteID    string `json:"siteId"`
	Trigger   string `json:"trigger"`
}

// KeywordSuggestion is one suggested keyword
type KeywordSuggestion struct {
	Keyword    string `json:"keyword" validate:"required"`
	Intent     string `json:"intent" validate:"omitempty,oneof=informational commercial transactional navigational"`
	Difficulty int    `json:"difficulty" validate:"min=0,max=100"`
}

// KeywordSuggestionResult is the output of a keyword suggestion job
type KeywordSuggestionResult struct {
	Keywords []KeywordSuggestion `json:"keywords" validate:"required,min=1,dive"`
}

// ClusterArticle is one planned article in a topic cluster
type ClusterArticle struct {
	Keyword string `json:"keyword" validate:"required"`
	Title   string `json:"title" validate:"required"`
	Angle   string `json:"angle"`
}

// TopicClusterResult is the output of a topic cluster job
type TopicClusterResult struct {
	Pillar   ClusterArticle   `json:"pillar" validate:"required"`
	Articles []ClusterArticle `json:"articles" validate:"required,min=1,dive"`
}
