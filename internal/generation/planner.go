package generation

import (
	"context"
	"strings"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/observability"
	"github.com/rankforge/api/internal/repair"
)

// GenerateKeywords suggests long-tail keywords around a seed. Suggestions
// touching a banned topic or an already published article are dropped.
func (o *Orchestrator) GenerateKeywords(ctx context.Context, in model.KeywordJobInput, gctx model.GenerationContext, provider llm.ProviderConfig) (*model.KeywordSuggestionResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "generation.keywords")
	defer span.End()

	system, err := o.prompts.render("system", promptData{Context: gctx})
	if err != nil {
		return nil, err
	}
	prompt, err := o.prompts.render("keywords", promptData{
		Keyword:   in.SeedKeyword,
		Context:   gctx,
		Count:     in.Count,
		Published: covered(gctx),
	})
	if err != nil {
		return nil, err
	}
	res, err := llm.GenerateJSON[model.KeywordSuggestionResult](ctx, o.gen, prompt, system,
		provider.With(llm.Options{Temperature: 0.6, MaxTokens: 2000}))
	if err != nil {
		return nil, err
	}

	f := newTopicFilter(gctx)
	out := res.Keywords[:0]
	for _, k := range res.Keywords {
		k.Keyword = strings.TrimSpace(k.Keyword)
		if k.Keyword == "" || !f.allow(k.Keyword) {
			continue
		}
		out = append(out, k)
		if len(out) == in.Count {
			break
		}
	}
	o.log.Info("keywords suggested", "seed", in.SeedKeyword, "returned", len(res.Keywords), "kept", len(out))
	res.Keywords = out
	return res, nil
}

// GenerateCluster plans a pillar article and its supporting articles.
func (o *Orchestrator) GenerateCluster(ctx context.Context, in model.ClusterJobInput, gctx model.GenerationContext, provider llm.ProviderConfig) (*model.TopicClusterResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "generation.cluster")
	defer span.End()

	system, err := o.prompts.render("system", promptData{Context: gctx})
	if err != nil {
		return nil, err
	}
	prompt, err := o.prompts.render("cluster", promptData{
		Keyword:   in.PillarKeyword,
		Context:   gctx,
		Count:     in.ClusterSize,
		Published: covered(gctx),
	})
	if err != nil {
		return nil, err
	}
	res, err := llm.GenerateJSON[model.TopicClusterResult](ctx, o.gen, prompt, system,
		provider.With(llm.Options{Temperature: 0.6, MaxTokens: 3000}))
	if err != nil {
		return nil, err
	}

	f := newTopicFilter(gctx)
	f.allow(res.Pillar.Keyword)
	out := res.Articles[:0]
	for _, a := range res.Articles {
		if !f.allow(a.Keyword) || !f.allowTitle(a.Title) {
			continue
		}
		out = append(out, a)
		if len(out) == in.ClusterSize {
			break
		}
	}
	o.log.Info("cluster planned", "pillar", in.PillarKeyword, "returned", len(res.Articles), "kept", len(out))
	res.Articles = out
	return res, nil
}

// covered lists what the site already published, by title and keyword.
func covered(gctx model.GenerationContext) []string {
	out := publishedTitles(gctx)
	for _, a := range gctx.PublishedArticles {
		if a.Keyword != "" {
			out = append(out, a.Keyword)
		}
	}
	return out
}

type topicFilter struct {
	banned    []string
	published []string
	seen      map[string]bool
}

func newTopicFilter(gctx model.GenerationContext) *topicFilter {
	f := &topicFilter{seen: map[string]bool{}}
	for _, b := range gctx.BannedTopics {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			f.banned = append(f.banned, b)
		}
	}
	f.published = covered(gctx)
	return f
}

// allow reports whether a keyword is new, not banned and not published, and
// records it as seen.
func (f *topicFilter) allow(keyword string) bool {
	key := strings.Join(words(keyword), " ")
	if key == "" || f.seen[key] {
		return false
	}
	f.seen[key] = true
	lower := strings.ToLower(keyword)
	for _, b := range f.banned {
		if strings.Contains(lower, b) {
			return false
		}
	}
	return f.allowTitle(keyword)
}

func (f *topicFilter) allowTitle(title string) bool {
	for _, p := range f.published {
		if repair.FuzzyMatch(title, p) {
			return false
		}
	}
	return true
}
