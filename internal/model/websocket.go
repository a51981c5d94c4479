package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypeWarning  = "warning"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries one orchestrator progress report
type WSProgressMessage struct {
	Type       string    `json:"type"`
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	Step       Stage     `json:"step"`
	StepIndex  int       `json:"stepIndex"`
	TotalSteps int       `json:"totalSteps"`
	Message    string    `json:"message"`
	Percentage int       `json:"percentage"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type      string  `json:"type"`
	JobID     string  `json:"jobId"`
	ArticleID *string `json:"articleId,omitempty"`
	Result    any     `json:"result"`
}

// WSErrorMessage represents an error or a non-fatal warning
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
