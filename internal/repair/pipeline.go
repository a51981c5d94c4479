// Package repair cleans generated markdown articles with a fixed sequence of
// idempotent text passes.
package repair

import (
	"time"

	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/model"
)

// Context is the article-specific data the passes need.
type Context struct {
	BrandName string
	BrandURL  string
	Links     []model.ConsolidatedLink
	Citations []model.Citation
	Now       time.Time
}

// Pass is one named repair step.
type Pass struct {
	Name string
	Run  func(text string, rc *Context) (string, int)
}

// Passes is the documented pass order.
var Passes = []Pass{
	{"opening_fragment", stripOpeningFragment},
	{"duplicate_sections", dedupeSections},
	{"paragraph_join", joinParagraphs},
	{"link_injection", injectLinks},
	{"broken_links", repairBrokenLinks},
	{"hallucinated_links", stripHallucinatedLinks},
	{"duplicate_links", capDuplicateLinks},
	{"faq", repairFAQ},
	{"toc", repairTOC},
	{"horizontal_rules", removeRules},
	{"paragraph_split", splitParagraphs},
	{"brand_mentions", throttleBrand},
	{"first_person", throttleFirstPerson},
	{"stale_years", fixStaleYears},
	{"truncated_ending", trimTruncatedEnding},
	{"whitespace", cleanup},
}

// Pipeline runs Passes in order, logging how much each changed.
type Pipeline struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{log: log}
}

// Run applies every pass to text. A pass that panics leaves its input
// unchanged.
func (p *Pipeline) Run(text string, rc *Context) string {
	if rc == nil {
		rc = &Context{}
	}
	for _, pass := range Passes {
		out, n := p.apply(pass, text, rc)
		if n > 0 {
			p.log.Debug("repair pass applied", "pass", pass.Name, "changes", n)
		}
		text = out
	}
	return text
}

func (p *Pipeline) apply(pass Pass, text string, rc *Context) (out string, n int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("repair pass panicked", "pass", pass.Name, "panic", r)
			out, n = text, 0
		}
	}()
	return pass.Run(text, rc)
}
