package generation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/rankforge/api/internal/model"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts is the named set of prompt templates used by every stage.
type Prompts struct {
	templates map[string]*template.Template
}

// promptData is the union of values the templates reference.
type promptData struct {
	Keyword    string
	Context    model.GenerationContext
	Input      model.ArticleJobInput
	Tier       model.LengthTier
	SectionCap int
	Outline    *model.Outline
	Sections   []model.OutlineSection
	Section    model.OutlineSection
	Research   *model.ResearchResult
	Links      []model.ConsolidatedLink
	WordBudget int
	MinWords   int
	Words      int
	Text       string
	Tail       string
	Title      string
	Heading    string
	Count      int
	Published  []string
	Year       int
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// LoadPrompts parses the embedded prompt set. When overridePath is set, the
// templates in that YAML file replace the embedded ones by name.
func LoadPrompts(overridePath string) (*Prompts, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(defaultPrompts, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompts: %w", err)
	}
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
		override := map[string]string{}
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to parse prompts file %s: %w", overridePath, err)
		}
		for k, v := range override {
			raw[k] = v
		}
	}

	p := &Prompts{templates: make(map[string]*template.Template, len(raw))}
	for name, body := range raw {
		t, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt %q: %w", name, err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// MustLoadPrompts is LoadPrompts for the embedded set only.
func MustLoadPrompts() *Prompts {
	p, err := LoadPrompts("")
	if err != nil {
		panic(err)
	}
	return p
}

// render executes the named template.
func (p *Prompts) render(name string, data promptData) (string, error) {
	t, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
