package generation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/repair"
)

const (
	draftContinuations   = 3
	sectionContinuations = 2
	rewriteContinuations = 2
	stitchedFloor        = 200
	introWords           = 150
	faqWords             = 300
	minSectionWords      = 150
	sectionConcurrency   = 3
)

func (o *Orchestrator) draft(ctx context.Context, r *run) (model.Candidate, error) {
	in := r.req.Input
	content := r.outline.ContentSections()
	prompt, err := o.prompts.render("draft", promptData{
		Keyword:  in.Keyword,
		Context:  r.req.Context,
		Input:    in,
		Tier:     r.tier,
		Outline:  r.outline,
		Research: &r.research,
	})
	if err != nil {
		return model.Candidate{}, err
	}
	res, err := o.engine.Generate(ctx, prompt, r.system, r.opts(0.7, r.tier.MaxTokens), "draft", draftContinuations, r.tier.MinWords)
	if err != nil {
		return model.Candidate{}, err
	}
	c := Annotate(model.StageDraft, res.Text, content, res.Truncated)
	if c.Words >= r.tier.MinWords && c.MissingSections < 2 && !c.Cutoff {
		return c, nil
	}

	r.log.Warn("draft incomplete, generating section by section",
		"words", c.Words, "min_words", r.tier.MinWords, "missing_sections", c.MissingSections, "cutoff", c.Cutoff)
	stitched, err := o.sectionBySection(ctx, r)
	if err != nil {
		r.warn("section-by-section fallback failed: %v", err)
		return c, nil
	}
	sc := Annotate(model.StageDraft, stitched, content, false)
	if sc.Words < stitchedFloor {
		r.warn("section-by-section fallback produced only %d words, keeping full draft", sc.Words)
		return c, nil
	}
	r.log.Info("section-by-section draft used", "words", sc.Words, "missing_sections", sc.MissingSections)
	return sc, nil
}

// sectionBySection writes the intro, every content section and the FAQ as
// independent continuation-protected calls and stitches them in outline
// order.
func (o *Orchestrator) sectionBySection(ctx context.Context, r *run) (string, error) {
	in := r.req.Input
	content := r.outline.ContentSections()

	budget := r.tier.TargetWords - introWords
	if in.IncludeFAQ {
		budget -= faqWords
	}
	if len(content) > 0 {
		budget /= len(content)
	}
	if budget < minSectionWords {
		budget = minSectionWords
	}

	bodies := make([]string, len(content))
	var intro, faq string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sectionConcurrency)
	g.Go(func() error {
		text, err := o.writePart(gctx, r, "intro", promptData{Keyword: in.Keyword, Outline: r.outline, WordBudget: introWords}, introWords)
		intro = text
		return err
	})
	for i, s := range content {
		g.Go(func() error {
			text, err := o.writePart(gctx, r, "section", promptData{
				Keyword:    in.Keyword,
				Outline:    r.outline,
				Section:    s,
				WordBudget: budget,
			}, budget)
			bodies[i] = text
			return err
		})
	}
	if in.IncludeFAQ {
		g.Go(func() error {
			text, err := o.writePart(gctx, r, "faq", promptData{Keyword: in.Keyword}, faqWords)
			faq = text
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return assemble(r.outline, intro, bodies, faq), nil
}

func (o *Orchestrator) writePart(ctx context.Context, r *run, name string, data promptData, words int) (string, error) {
	prompt, err := o.prompts.render(name, data)
	if err != nil {
		return "", err
	}
	label := name
	if data.Section.Heading != "" {
		label = fmt.Sprintf("%s:%s", name, data.Section.Heading)
	}
	res, err := o.engine.Generate(ctx, prompt, r.system, r.opts(0.7, words*2+300), label, sectionContinuations, words*4/5)
	if err != nil {
		return "", fmt.Errorf("%s: %w", label, err)
	}
	return res.Text, nil
}

// assemble joins independently written parts in outline order. Key takeaways
// and the table of contents are built from the outline itself.
func assemble(outline *model.Outline, intro string, bodies []string, faq string) string {
	var b strings.Builder
	b.WriteString("# " + outline.Title + "\n\n")
	b.WriteString(stripLeadingHeadings(intro))

	ci := 0
	for _, s := range outline.Sections {
		b.WriteString("\n\n## " + s.Heading + "\n\n")
		switch s.Kind {
		case model.SectionKeyTakeaways:
			for _, c := range outline.ContentSections() {
				if len(c.Points) > 0 {
					b.WriteString("- " + strings.TrimRight(c.Points[0], ".") + ".\n")
				}
			}
		case model.SectionTOC:
			for _, h := range outline.Sections {
				if h.Kind == model.SectionContent || h.Kind == model.SectionFAQ || h.Kind == "" {
					b.WriteString(fmt.Sprintf("- [%s](#%s)\n", h.Heading, repair.Slug(h.Heading)))
				}
			}
		case model.SectionFAQ:
			b.WriteString(stripLeadingHeadings(faq))
		default:
			if ci < len(bodies) {
				b.WriteString(stripLeadingHeadings(bodies[ci]))
			}
			ci++
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// stripLeadingHeadings drops H1/H2 lines at the top of a generated part.
func stripLeadingHeadings(text string) string {
	lines := repair.Parse(strings.TrimSpace(text))
	i := 0
	for i < len(lines) && (lines[i].Kind == repair.Blank || (lines[i].Kind == repair.Heading && lines[i].Level <= 2)) {
		i++
	}
	return strings.TrimSpace(repair.Render(lines[i:]))
}

// rewrite runs the tone or seo stage over in. The result is rejected when it
// shrinks below three quarters of the input, is cut off, or is missing more
// outline sections than the input.
func (o *Orchestrator) rewrite(ctx context.Context, r *run, st model.Stage, in model.Candidate) (model.Candidate, bool, error) {
	floor := in.Words * 3 / 4
	temperature := 0.6
	if st == model.StageSEO {
		temperature = 0.4
	}
	prompt, err := o.prompts.render(string(st), promptData{
		Keyword:  r.req.Input.Keyword,
		Context:  r.req.Context,
		Text:     in.Text,
		MinWords: floor,
		Links:    r.links,
	})
	if err != nil {
		return model.Candidate{}, false, err
	}
	res, err := o.engine.Generate(ctx, prompt, r.system, r.opts(temperature, r.tier.MaxTokens), string(st), rewriteContinuations, floor)
	if err != nil {
		return model.Candidate{}, false, err
	}
	c := Annotate(st, res.Text, r.outline.ContentSections(), res.Truncated)

	var reason string
	switch {
	case c.Words < floor:
		reason = "shrank"
	case c.Cutoff:
		reason = "cut off"
	case c.MissingSections > in.MissingSections:
		reason = "lost sections"
	default:
		return c, true, nil
	}
	r.log.Warn("rewrite rejected",
		"stage", st, "reason", reason, "words", c.Words, "input_words", in.Words,
		"missing_sections", c.MissingSections, "input_missing", in.MissingSections)
	return c, false, nil
}
