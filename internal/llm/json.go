package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxJSONAttempts bounds the parse-and-repair loop of GenerateJSON.
const MaxJSONAttempts = 3

const jsonOnlyInstruction = "\n\nIMPORTANT: Respond with a single valid JSON object only. " +
	"No markdown code fences, no commentary, no trailing commas."

var (
	validate = validator.New()
	fenceRe  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
)

// GenerateJSON asks g for a JSON document, decodes it into T and validates it
// against T's validate tags. Parse or schema failures are retried with an
// explicit JSON-only instruction; provider errors are returned as they are.
func GenerateJSON[T any](ctx context.Context, g Generator, prompt, system string, opts Options) (*T, error) {
	var (
		lastErr    error
		lastRaw    string
		lastFields []FieldError
	)
	for attempt := 1; attempt <= MaxJSONAttempts; attempt++ {
		p := prompt
		if attempt > 1 {
			p += jsonOnlyInstruction
		}
		resp, err := g.GenerateTextWithMeta(ctx, p, system, opts)
		if err != nil {
			return nil, err
		}
		lastRaw = resp.Text

		var out T
		if err := decodeJSON(resp.Text, &out); err != nil {
			lastErr, lastFields = fmt.Errorf("decode: %w", err), nil
			continue
		}
		fields, err := validateValue(&out)
		if err != nil {
			lastErr, lastFields = err, fields
			continue
		}
		return &out, nil
	}
	return nil, &JSONParseError{Attempts: MaxJSONAttempts, Raw: lastRaw, Fields: lastFields, Err: lastErr}
}

func validateValue(v any) ([]FieldError, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// not a struct; nothing to check
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Namespace(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return fields, fmt.Errorf("schema validation failed: %d field(s)", len(fields))
}

// decodeJSON decodes raw as is when it is valid JSON and falls back to the
// repaired text otherwise.
func decodeJSON(raw string, v any) error {
	if s := strings.TrimSpace(raw); json.Valid([]byte(s)) {
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal([]byte(RepairJSON(raw)), v)
}

// RepairJSON strips code fences and surrounding prose and drops trailing
// commas so that common model formatting faults still decode.
func RepairJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.IndexAny(s, "{[")
	if start >= 0 {
		closer := byte('}')
		if s[start] == '[' {
			closer = ']'
		}
		if end := strings.LastIndexByte(s, closer); end > start {
			s = s[start : end+1]
		}
	}
	return dropTrailingCommas(s)
}

// dropTrailingCommas removes commas directly before a closing brace or
// bracket. String literals are copied untouched.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
