package generation

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/model"
)

func (o *Orchestrator) buildOutline(ctx context.Context, r *run) (*model.Outline, error) {
	in := r.req.Input
	prompt, err := o.prompts.render("outline", promptData{
		Keyword:    in.Keyword,
		Context:    r.req.Context,
		Input:      in,
		Tier:       r.tier,
		SectionCap: r.tier.SectionCap(in.IncludeFAQ),
		Research:   &r.research,
		Published:  publishedTitles(r.req.Context),
	})
	if err != nil {
		return nil, err
	}
	outline, err := llm.GenerateJSON[model.Outline](ctx, o.gen, prompt, r.system, r.opts(0.5, 1500))
	if err != nil {
		return nil, err
	}

	outline.Title = EnsureKeywordInTitle(strings.TrimSpace(outline.Title), in.Keyword)
	before := len(outline.ContentSections())
	NormalizeOutline(outline, in, r.tier)
	if dropped := before - len(outline.ContentSections()); dropped > 0 {
		r.log.Info("outline capped", "dropped_sections", dropped, "cap", r.tier.SectionCap(in.IncludeFAQ))
	}
	return outline, nil
}

// NormalizeOutline classifies structural sections, applies the include
// flags and truncates content sections to the tier's cap.
func NormalizeOutline(outline *model.Outline, in model.ArticleJobInput, tier model.LengthTier) {
	limit := tier.SectionCap(in.IncludeFAQ)
	var out []model.OutlineSection
	content, faq := 0, false
	for _, s := range outline.Sections {
		s.Heading = strings.TrimSpace(strings.TrimLeft(s.Heading, "# "))
		if s.Heading == "" {
			continue
		}
		s.Kind = classifySection(s)
		switch s.Kind {
		case model.SectionFAQ:
			if !in.IncludeFAQ || faq {
				continue
			}
			faq = true
		case model.SectionTOC:
			if !in.IncludeTableOfContents {
				continue
			}
		case model.SectionContent:
			if content >= limit {
				continue
			}
			content++
		}
		out = append(out, s)
	}
	if in.IncludeFAQ && !faq {
		out = append(out, model.OutlineSection{Heading: "Frequently Asked Questions", Kind: model.SectionFAQ})
	}
	outline.Sections = out
}

func classifySection(s model.OutlineSection) model.SectionKind {
	switch s.Kind {
	case model.SectionFAQ, model.SectionTOC, model.SectionKeyTakeaways:
		return s.Kind
	}
	h := strings.ToLower(s.Heading)
	switch {
	case strings.Contains(h, "frequently asked") || strings.Contains(h, "faq"):
		return model.SectionFAQ
	case strings.Contains(h, "table of contents"):
		return model.SectionTOC
	case strings.Contains(h, "key takeaways"):
		return model.SectionKeyTakeaways
	}
	return model.SectionContent
}

var titleStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true, "of": true, "on": true,
	"the": true, "to": true, "with": true, "your": true, "vs": true,
}

// EnsureKeywordInTitle returns title unchanged when it contains the keyword
// or every significant keyword word; otherwise the title-cased keyword is
// appended.
func EnsureKeywordInTitle(title, keyword string) string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return title
	}
	if title == "" {
		return cases.Title(language.English).String(keyword)
	}
	nt, nk := words(title), words(keyword)
	if strings.Contains(" "+strings.Join(nt, " ")+" ", " "+strings.Join(nk, " ")+" ") {
		return title
	}
	have := map[string]bool{}
	for _, w := range nt {
		have[stem(w)] = true
	}
	approx := true
	for _, w := range nk {
		if titleStopwords[w] {
			continue
		}
		if !have[stem(w)] {
			approx = false
			break
		}
	}
	if approx {
		return title
	}
	return strings.TrimRight(title, " :.-") + ": " + cases.Title(language.English).String(keyword)
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}

func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return strings.TrimSuffix(w, "s")
	}
	return w
}
