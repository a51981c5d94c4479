package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/llm/llmtest"
)

type outlineDoc struct {
	Title    string   `json:"title" validate:"required"`
	Sections []string `json:"sections" validate:"required,min=1"`
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go:\n{\"a\":1}\nHope that helps", `{"a":1}`},
		{"trailing commas", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"array", "```\n[1, 2, ]\n```", `[1, 2]`},
		{"comma inside string", `{"a":"x, }","b":"y\", ]",}`, `{"a":"x, }","b":"y\", ]"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := llm.RepairJSON(tt.in); got != tt.want {
				t.Errorf("RepairJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateJSONRetriesWithInstruction(t *testing.T) {
	fake := llmtest.New(
		llmtest.Stop("sorry, here is some prose"),
		llmtest.Stop("```json\n{\"title\":\"CRM\",\"sections\":[\"a\",\"b\",],}\n```"),
	)
	doc, err := llm.GenerateJSON[outlineDoc](context.Background(), fake, "make outline", "sys", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "CRM" || len(doc.Sections) != 2 {
		t.Errorf("unexpected doc: %+v", doc)
	}
	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if strings.Contains(calls[0].Prompt, "JSON object only") {
		t.Error("first attempt should use the prompt unchanged")
	}
	if !strings.Contains(calls[1].Prompt, "JSON object only") {
		t.Error("retry should append the JSON-only instruction")
	}
}

func TestGenerateJSONKeepsValidDocument(t *testing.T) {
	fake := llmtest.New(llmtest.Stop(`{"title":"CRM, ]","sections":["Pricing, }"]}`))
	doc, err := llm.GenerateJSON[outlineDoc](context.Background(), fake, "make outline", "", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "CRM, ]" || doc.Sections[0] != "Pricing, }" {
		t.Errorf("string values were edited: %+v", doc)
	}
}

func TestGenerateJSONSchemaFailure(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(llmtest.Call) llmtest.Reply {
		return llmtest.Stop(`{"title":"","sections":[]}`)
	}}
	_, err := llm.GenerateJSON[outlineDoc](context.Background(), fake, "p", "", llm.Options{})
	var perr *llm.JSONParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected JSONParseError, got %v", err)
	}
	if perr.Attempts != llm.MaxJSONAttempts {
		t.Errorf("expected %d attempts, got %d", llm.MaxJSONAttempts, perr.Attempts)
	}
	if len(perr.Fields) != 2 {
		t.Fatalf("expected 2 field errors, got %+v", perr.Fields)
	}
	if perr.Fields[0].Field != "outlineDoc.Title" || perr.Fields[0].Tag != "required" {
		t.Errorf("unexpected field error: %+v", perr.Fields[0])
	}
	if len(fake.Calls()) != llm.MaxJSONAttempts {
		t.Errorf("expected %d calls, got %d", llm.MaxJSONAttempts, len(fake.Calls()))
	}
}

func TestGenerateJSONProviderErrorIsNotReparsed(t *testing.T) {
	boom := errors.New("boom")
	fake := llmtest.New(llmtest.Fail(boom))
	if _, err := llm.GenerateJSON[outlineDoc](context.Background(), fake, "p", "", llm.Options{}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(fake.Calls()) != 1 {
		t.Errorf("expected a single call, got %d", len(fake.Calls()))
	}
}
