package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrContentBlocked is returned when the provider stopped for content safety
	// and left too little text to use.
	ErrContentBlocked = errors.New("response blocked by content safety filter")
	// ErrUnknownProvider is returned when a request names a provider that is not registered.
	ErrUnknownProvider = errors.New("unknown model provider")
)

// ProviderError is a non-2xx answer from a model provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, body)
}

func (e *ProviderError) HTTPStatusCode() int {
	return e.StatusCode
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// FieldError is one schema violation in a structured response.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param,omitempty"`
}

// JSONParseError is returned by GenerateJSON after every parse attempt failed.
type JSONParseError struct {
	Attempts int
	Raw      string
	Fields   []FieldError
	Err      error
}

func (e *JSONParseError) Error() string {
	msg := fmt.Sprintf("failed to parse structured response after %d attempts: %v", e.Attempts, e.Err)
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+" ("+f.Tag+")")
		}
		msg += "; invalid fields: " + strings.Join(parts, ", ")
	}
	return msg
}

func (e *JSONParseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient provider failure:
// rate limiting, 408/5xx, timeouts, or a dropped connection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContentBlocked) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == 408 || code == 429 || (code >= 500 && code <= 599)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}
