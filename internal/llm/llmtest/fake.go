// Package llmtest provides scripted model backends for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rankforge/api/internal/llm"
)

// Call records one request seen by a Fake.
type Call struct {
	Prompt  string
	System  string
	Options llm.Options
}

// Reply is one scripted answer.
type Reply struct {
	Resp *llm.Response
	Err  error
}

// Stop is a complete response.
func Stop(text string) Reply {
	return Reply{Resp: &llm.Response{Text: text, FinishReason: "stop"}}
}

// Cut is a response that hit the output-token ceiling.
func Cut(text string) Reply {
	return Reply{Resp: &llm.Response{Text: text, FinishReason: "length"}}
}

// Fail is an error reply.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Fake serves scripted replies in order, then falls back to Handler.
// It satisfies both llm.Generator and llm.Provider.
type Fake struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call

	ProviderName string
	Handler      func(Call) Reply
}

func New(replies ...Reply) *Fake {
	return &Fake{replies: replies}
}

// Push appends more scripted replies.
func (f *Fake) Push(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) next(c Call) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var r Reply
	switch {
	case len(f.replies) > 0:
		r = f.replies[0]
		f.replies = f.replies[1:]
	case f.Handler != nil:
		h := f.Handler
		f.mu.Unlock()
		r = h(c)
		f.mu.Lock()
	default:
		f.mu.Unlock()
		return nil, fmt.Errorf("llmtest: no scripted reply for call %d", len(f.calls))
	}
	f.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	resp := *r.Resp
	return &resp, nil
}

func (f *Fake) GenerateTextWithMeta(ctx context.Context, prompt, system string, opts llm.Options) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := f.next(Call{Prompt: prompt, System: system, Options: opts})
	if err != nil {
		return nil, err
	}
	resp.FinishReason = llm.NormaliseFinishReason(resp.FinishReason)
	resp.Truncated = resp.Truncated || resp.FinishReason == llm.FinishLength
	return resp, nil
}

func (f *Fake) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.next(Call{Prompt: req.Prompt, System: req.System, Options: req.Options})
}
