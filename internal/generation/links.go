package generation

import (
	"strings"

	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/repair"
)

// ConsolidateLinks merges the site's link candidates and published articles
// into one deduplicated list of absolute internal links. Candidates come
// first so their anchors win.
func ConsolidateLinks(gctx model.GenerationContext) []model.ConsolidatedLink {
	seen := map[string]bool{}
	var out []model.ConsolidatedLink
	add := func(anchor, rawURL string) {
		anchor = strings.TrimSpace(anchor)
		abs := repair.Resolve(gctx.BrandURL, rawURL)
		if anchor == "" || !strings.HasPrefix(abs, "http") {
			return
		}
		key := repair.NormalizeURL(abs)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, model.ConsolidatedLink{Anchor: anchor, URL: abs})
	}

	for _, c := range gctx.LinkCandidates {
		add(c.Anchor, c.URL)
	}
	for _, a := range gctx.PublishedArticles {
		u := a.URL
		if u == "" && a.Slug != "" {
			u = "/blog/" + a.Slug
		}
		anchor := a.Keyword
		if anchor == "" {
			anchor = a.Title
		}
		add(anchor, u)
	}
	return out
}

// publishedTitles lists the titles and keywords already covered by the site.
func publishedTitles(gctx model.GenerationContext) []string {
	var out []string
	for _, a := range gctx.PublishedArticles {
		if a.Title != "" {
			out = append(out, a.Title)
		}
	}
	return out
}
