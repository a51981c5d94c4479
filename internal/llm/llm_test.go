package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/llm/llmtest"
)

func newClient(p llm.Provider, sleeps *[]time.Duration) *llm.Client {
	return llm.NewClient("", []llm.Provider{p},
		llm.WithSleeper(func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		}),
	)
}

func TestRetryTransientWithBackoff(t *testing.T) {
	fake := llmtest.New(
		llmtest.Fail(&llm.ProviderError{Provider: "fake", StatusCode: 429}),
		llmtest.Fail(&llm.ProviderError{Provider: "fake", StatusCode: 503}),
		llmtest.Fail(&llm.ProviderError{Provider: "fake", StatusCode: 500}),
		llmtest.Stop("finally"),
	)
	var sleeps []time.Duration
	c := newClient(fake, &sleeps)

	text, err := c.GenerateText(context.Background(), "p", "s", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "finally" {
		t.Errorf("expected final text, got %q", text)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d: expected %s, got %s", i, want[i], sleeps[i])
		}
	}
}

func TestRetryExhaustion(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(llmtest.Call) llmtest.Reply {
		return llmtest.Fail(&llm.ProviderError{Provider: "fake", StatusCode: 502})
	}}
	var sleeps []time.Duration
	c := newClient(fake, &sleeps)

	_, err := c.GenerateText(context.Background(), "p", "", llm.Options{})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 502 {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if len(fake.Calls()) != 4 {
		t.Errorf("expected 1 call + 3 retries, got %d calls", len(fake.Calls()))
	}
}

func TestBackoffIsCapped(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(llmtest.Call) llmtest.Reply {
		return llmtest.Fail(&llm.ProviderError{Provider: "fake", StatusCode: 429, RetryAfter: time.Minute})
	}}
	var sleeps []time.Duration
	c := newClient(fake, &sleeps)
	_, _ = c.GenerateText(context.Background(), "p", "", llm.Options{})
	for _, d := range sleeps {
		if d > 8*time.Second {
			t.Errorf("sleep %s exceeds cap", d)
		}
	}
}

func TestNonRetryablePropagatesImmediately(t *testing.T) {
	fake := llmtest.New(llmtest.Fail(&llm.ProviderError{Provider: "fake", StatusCode: 401}))
	var sleeps []time.Duration
	c := newClient(fake, &sleeps)

	if _, err := c.GenerateText(context.Background(), "p", "", llm.Options{}); err == nil {
		t.Fatal("expected error")
	}
	if len(sleeps) != 0 || len(fake.Calls()) != 1 {
		t.Errorf("expected no retries, got %d sleeps and %d calls", len(sleeps), len(fake.Calls()))
	}
}

func TestSafetyBlockedResponses(t *testing.T) {
	var sleeps []time.Duration
	short := llmtest.New(llmtest.Reply{Resp: &llm.Response{Text: "I can't", FinishReason: "SAFETY"}})
	if _, err := newClient(short, &sleeps).GenerateText(context.Background(), "p", "", llm.Options{}); !errors.Is(err, llm.ErrContentBlocked) {
		t.Fatalf("expected ErrContentBlocked, got %v", err)
	}

	long := strings.Repeat("usable prose ", 30)
	kept := llmtest.New(llmtest.Reply{Resp: &llm.Response{Text: long, FinishReason: "content_filter"}})
	resp, err := newClient(kept, &sleeps).GenerateTextWithMeta(context.Background(), "p", "", llm.Options{})
	if err != nil {
		t.Fatalf("expected long blocked text to be usable, got %v", err)
	}
	if resp.FinishReason != llm.FinishSafety {
		t.Errorf("expected safety finish reason, got %s", resp.FinishReason)
	}
}

func TestTruncatedFromFinishReason(t *testing.T) {
	var sleeps []time.Duration
	fake := llmtest.New(llmtest.Reply{Resp: &llm.Response{Text: "half", FinishReason: "MAX_TOKENS"}})
	resp, err := newClient(fake, &sleeps).GenerateTextWithMeta(context.Background(), "p", "", llm.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Truncated || resp.FinishReason != llm.FinishLength {
		t.Errorf("expected truncated length response, got %+v", resp)
	}
}

func TestProviderSelection(t *testing.T) {
	a := llmtest.New(llmtest.Stop("from a"))
	a.ProviderName = "a"
	b := llmtest.New(llmtest.Stop("from b"))
	b.ProviderName = "b"
	c := llm.NewClient("b", []llm.Provider{a, b})

	text, err := c.GenerateText(context.Background(), "p", "", llm.Options{})
	if err != nil || text != "from b" {
		t.Fatalf("expected default provider b, got %q (%v)", text, err)
	}
	opts := llm.ProviderConfig{Provider: "a"}.With(llm.Options{})
	text, err = c.GenerateText(context.Background(), "p", "", opts)
	if err != nil || text != "from a" {
		t.Fatalf("expected override provider a, got %q (%v)", text, err)
	}
	if _, err := c.GenerateText(context.Background(), "p", "", llm.Options{Provider: "zzz"}); !errors.Is(err, llm.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestCanceledContextIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := llmtest.New()
	var sleeps []time.Duration
	if _, err := newClient(fake, &sleeps).GenerateText(ctx, "p", "", llm.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no backoff after cancel")
	}
}
