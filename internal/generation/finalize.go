package generation

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/repair"
)

const metadataBodyLimit = 12000

func (o *Orchestrator) metadata(ctx context.Context, r *run, body string, article *model.GeneratedArticle) error {
	text := firstRunes(body, metadataBodyLimit)
	prompt, err := o.prompts.render("metadata", promptData{Keyword: r.req.Input.Keyword, Text: text})
	if err != nil {
		return err
	}
	meta, err := llm.GenerateJSON[model.ArticleMetadata](ctx, o.gen, prompt, r.system, r.opts(0.3, 1500))
	if err != nil {
		return err
	}

	slug := Slugify(meta.Slug)
	if slug == "" {
		slug = Slugify(article.Title)
	}
	article.Slug = slug
	article.Excerpt = strings.TrimSpace(meta.Excerpt)
	article.MetaTitle = strings.TrimSpace(meta.MetaTitle)
	article.MetaDescription = strings.TrimSpace(meta.MetaDescription)
	article.SecondaryKeywords = meta.SecondaryKeywords
	article.Tags = meta.Tags
	article.Category = meta.Category
	article.SocialCaptions = meta.SocialCaptions
	article.StructuredData = meta.StructuredData
	if len(article.StructuredData) == 0 {
		article.StructuredData = defaultStructuredData(r.req.Context, article, o.now())
	}
	r.imageAlt = strings.TrimSpace(meta.FeaturedImageAlt)
	return nil
}

func defaultStructuredData(gctx model.GenerationContext, a *model.GeneratedArticle, now time.Time) map[string]any {
	data := map[string]any{
		"@context":      "https://schema.org",
		"@type":         "BlogPosting",
		"headline":      a.Title,
		"description":   a.MetaDescription,
		"keywords":      strings.Join(append([]string{a.FocusKeyword}, a.SecondaryKeywords...), ", "),
		"datePublished": now.UTC().Format("2006-01-02"),
	}
	if gctx.BrandName != "" {
		data["publisher"] = map[string]any{"@type": "Organization", "name": gctx.BrandName, "url": gctx.BrandURL}
	}
	return data
}

// addImages generates the featured image and up to two inline images in
// parallel. Every failure is a warning; the body is returned with whatever
// inline images succeeded.
func (o *Orchestrator) addImages(ctx context.Context, r *run, body string, article *model.GeneratedArticle) string {
	siteID := r.req.Input.WebsiteID
	headings := contentHeadings(body)
	positions := imagePositions(len(headings))

	alt := r.imageAlt
	if alt == "" {
		alt = article.Title
	}
	var featured string
	inline := make([]string, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prompt, err := o.prompts.render("image_featured", promptData{Keyword: r.req.Input.Keyword, Title: article.Title})
		if err == nil {
			featured, err = o.images.GenerateFeaturedImage(gctx, prompt, article.Slug, siteID)
		}
		if err != nil {
			r.warn("featured image failed: %v", err)
		}
		return nil
	})
	for i, pos := range positions {
		g.Go(func() error {
			prompt, err := o.prompts.render("image_inline", promptData{Keyword: r.req.Input.Keyword, Heading: headings[pos-1]})
			if err == nil {
				inline[i], err = o.images.GenerateInlineImage(gctx, prompt, article.Slug, siteID, pos)
			}
			if err != nil {
				r.warn("inline image %d failed: %v", pos, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if featured != "" {
		article.FeaturedImage = &model.ImageRef{URL: featured, AltText: alt}
	}
	for i, pos := range positions {
		if inline[i] == "" {
			continue
		}
		ref := model.ImageRef{URL: inline[i], AltText: headings[pos-1], AfterHeading: headings[pos-1]}
		article.InlineImages = append(article.InlineImages, ref)
		body = insertImage(body, ref)
	}
	return body
}

// contentHeadings lists the H2 headings that are not structural sections.
func contentHeadings(body string) []string {
	var out []string
	for _, l := range repair.Parse(body) {
		if l.Kind != repair.Heading || l.Level != 2 {
			continue
		}
		h := repair.HeadingText(l)
		if classifySection(model.OutlineSection{Heading: h}) == model.SectionContent {
			out = append(out, h)
		}
	}
	return out
}

// imagePositions returns the 1-based content headings that get an inline
// image: the 2nd and 4th, or the middle and last for shorter articles.
func imagePositions(n int) []int {
	switch {
	case n >= 4:
		return []int{2, 4}
	case n == 0:
		return nil
	case n == 1:
		return []int{1}
	}
	mid := (n + 1) / 2
	if mid == n {
		return []int{n}
	}
	return []int{mid, n}
}

func insertImage(body string, ref model.ImageRef) string {
	lines := repair.Parse(body)
	for i, l := range lines {
		if l.Kind != repair.Heading || repair.HeadingText(l) != ref.AfterHeading {
			continue
		}
		img := repair.Line{Text: "![" + ref.AltText + "](" + ref.URL + ")", Kind: repair.Image}
		out := make([]repair.Line, 0, len(lines)+2)
		out = append(out, lines[:i+1]...)
		out = append(out, repair.Line{Kind: repair.Blank}, img)
		out = append(out, lines[i+1:]...)
		return repair.Render(out)
	}
	return body
}
