package logger

import "testing"

func TestSanitizeRedactsSecrets(t *testing.T) {
	out := sanitize([]any{"api_key", "sk-123", "job_id", "j1", "Authorization", "Bearer x", "dangling"})
	want := []any{"api_key", "[REDACTED]", "job_id", "j1", "Authorization", "[REDACTED]", "dangling"}
	if len(out) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("development", "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	l, err := New("production", "warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info("suppressed")
}
