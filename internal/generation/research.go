package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/model"
)

const (
	researchTimeout  = 30 * time.Second
	maxCitations     = 5
	verifyConcurrent = 4
)

type researchDoc struct {
	ContentGaps      []string `json:"contentGaps"`
	MissingSubtopics []string `json:"missingSubtopics"`
	KeyStatistics    []string `json:"keyStatistics"`
	Citations        []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"citations"`
	Notes string `json:"notes"`
}

// Research gathers content gaps, subtopics, statistics and verified
// citations for keyword. It is bounded to thirty seconds and degrades to a
// minimal context instead of failing; only cancellation of ctx is returned.
func (o *Orchestrator) Research(ctx context.Context, keyword string, gctx model.GenerationContext, provider llm.ProviderConfig) (model.ResearchResult, error) {
	system, err := o.prompts.render("system", promptData{Context: gctx})
	if err != nil {
		return model.ResearchResult{}, err
	}
	return o.research(ctx, provider, keyword, gctx, system)
}

func (o *Orchestrator) research(ctx context.Context, provider llm.ProviderConfig, keyword string, gctx model.GenerationContext, system string) (model.ResearchResult, error) {
	rctx, cancel := context.WithTimeout(ctx, researchTimeout)
	defer cancel()

	prompt, err := o.prompts.render("research", promptData{Keyword: keyword, Context: gctx})
	if err != nil {
		return model.ResearchResult{}, err
	}
	doc, err := llm.GenerateJSON[researchDoc](rctx, o.gen, prompt, system,
		provider.With(llm.Options{Temperature: 0.3, MaxTokens: 1500}))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return model.ResearchResult{}, ctx.Err()
		}
		o.log.Warn("research failed, using minimal context", "keyword", keyword, "error", err)
		return minimalResearch(keyword, gctx), nil
	}

	res := model.ResearchResult{
		ContentGaps:      doc.ContentGaps,
		MissingSubtopics: doc.MissingSubtopics,
		KeyStatistics:    doc.KeyStatistics,
		Notes:            doc.Notes,
	}
	var urls []model.Citation
	for _, c := range doc.Citations {
		if c.URL != "" {
			urls = append(urls, model.Citation{URL: c.URL, Title: c.Title})
		}
	}
	res.Citations = o.verifyCitations(rctx, urls)
	return res, nil
}

func minimalResearch(keyword string, gctx model.GenerationContext) model.ResearchResult {
	notes := fmt.Sprintf("Write from practical expertise about %q", keyword)
	if gctx.Audience != "" {
		notes += " for " + gctx.Audience
	}
	return model.ResearchResult{Notes: notes + ". Do not cite statistics or sources.", Degraded: true}
}

// verifyCitations keeps, in order, up to maxCitations URLs that resolve.
// Without a verifier no citation is trusted.
func (o *Orchestrator) verifyCitations(ctx context.Context, citations []model.Citation) []model.Citation {
	if o.verifier == nil || len(citations) == 0 {
		return nil
	}
	ok := make([]bool, len(citations))
	titles := make([]string, len(citations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrent)
	for i, c := range citations {
		g.Go(func() error {
			title, err := o.verifier.Verify(gctx, c.URL)
			if err != nil {
				o.log.Debug("citation rejected", "url", c.URL, "error", err)
				return nil
			}
			ok[i], titles[i] = true, title
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Citation
	for i, c := range citations {
		if !ok[i] {
			continue
		}
		if titles[i] != "" {
			c.Title = titles[i]
		}
		out = append(out, c)
		if len(out) == maxCitations {
			break
		}
	}
	return out
}
