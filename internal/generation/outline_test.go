package generation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/llm/llmtest"
	"github.com/rankforge/api/internal/model"
)

func TestEnsureKeywordInTitle(t *testing.T) {
	tests := []struct {
		title, keyword, want string
	}{
		{"Best CRM for Agencies in Practice", "best crm for agencies", "Best CRM for Agencies in Practice"},
		{"The Agency CRM Guide: Best Picks", "best crm for agency", "The Agency CRM Guide: Best Picks"},
		{"Top Tools Compared", "best crm for agencies", "Top Tools Compared: Best Crm For Agencies"},
		{"Top Tools Compared:", "email automation", "Top Tools Compared: Email Automation"},
		{"", "email automation", "Email Automation"},
		{"Anything", "", "Anything"},
	}
	for _, tt := range tests {
		if got := EnsureKeywordInTitle(tt.title, tt.keyword); got != tt.want {
			t.Errorf("EnsureKeywordInTitle(%q, %q) = %q, want %q", tt.title, tt.keyword, got, tt.want)
		}
	}
}

func TestNormalizeOutlineCapsContentSections(t *testing.T) {
	outline := &model.Outline{
		Title: "Guide",
		Sections: []model.OutlineSection{
			{Heading: "Key Takeaways"},
			{Heading: "Table of Contents"},
			{Heading: "One"}, {Heading: "Two"}, {Heading: "Three"},
			{Heading: "Four"}, {Heading: "Five"}, {Heading: "Six"},
			{Heading: "FAQ"},
			{Heading: "Frequently Asked Questions"},
		},
	}
	in := model.ArticleJobInput{IncludeFAQ: true, IncludeTableOfContents: false}
	NormalizeOutline(outline, in, model.ContentLengthMedium.Tier())

	var got []string
	for _, s := range outline.Sections {
		got = append(got, s.Heading+":"+string(s.Kind))
	}
	want := []string{
		"Key Takeaways:key_takeaways",
		"One:content", "Two:content", "Three:content", "Four:content",
		"FAQ:faq",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sections = %v, want %v", got, want)
	}
}

func TestNormalizeOutlineAddsFAQ(t *testing.T) {
	outline := &model.Outline{Sections: []model.OutlineSection{{Heading: "## One"}, {Heading: " "}}}
	NormalizeOutline(outline, model.ArticleJobInput{IncludeFAQ: true}, model.ContentLengthShort.Tier())

	if len(outline.Sections) != 2 || outline.Sections[0].Heading != "One" || outline.Sections[1].Kind != model.SectionFAQ {
		t.Errorf("sections = %+v", outline.Sections)
	}
}

func TestImagePositions(t *testing.T) {
	tests := map[int][]int{0: nil, 1: {1}, 2: {1, 2}, 3: {2, 3}, 4: {2, 4}, 7: {2, 4}}
	for n, want := range tests {
		got := imagePositions(n)
		if len(got) != len(want) {
			t.Errorf("imagePositions(%d) = %v, want %v", n, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("imagePositions(%d) = %v, want %v", n, got, want)
			}
		}
	}
}

func TestConsolidateLinks(t *testing.T) {
	gctx := model.GenerationContext{
		BrandURL: "https://acme.com",
		LinkCandidates: []model.LinkCandidate{
			{Anchor: "pricing page", URL: "/pricing"},
			{Anchor: "pricing", URL: "https://www.acme.com/pricing/"},
			{Anchor: "", URL: "/empty"},
			{Anchor: "mail", URL: "mailto:hi@acme.com"},
		},
		PublishedArticles: []model.PublishedArticle{
			{Title: "Email Automation Guide", Slug: "email-automation"},
			{Title: "CRM Basics", URL: "https://acme.com/blog/crm-basics", Keyword: "crm basics"},
		},
	}
	got := ConsolidateLinks(gctx)
	want := []model.ConsolidatedLink{
		{Anchor: "pricing page", URL: "https://acme.com/pricing"},
		{Anchor: "Email Automation Guide", URL: "https://acme.com/blog/email-automation"},
		{Anchor: "crm basics", URL: "https://acme.com/blog/crm-basics"},
	}
	if len(got) != len(want) {
		t.Fatalf("ConsolidateLinks() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("link %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoadPromptsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("system: |\n  You write for {{.Context.BrandName}} only.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts() error = %v", err)
	}
	got, err := p.render("system", promptData{Context: model.GenerationContext{BrandName: "Acme"}})
	if err != nil || got != "You write for Acme only." {
		t.Errorf("render(system) = %q, %v", got, err)
	}
	if _, err := p.render("draft", promptData{Outline: &model.Outline{Title: "T"}}); err != nil {
		t.Errorf("embedded draft prompt lost: %v", err)
	}
}

func TestEmbeddedPromptsRender(t *testing.T) {
	p := MustLoadPrompts()
	data := promptData{
		Keyword:  "crm",
		Outline:  &model.Outline{Title: "T", Sections: []model.OutlineSection{{Heading: "H", Points: []string{"a"}}}},
		Research: &model.ResearchResult{},
		Section:  model.OutlineSection{Heading: "H"},
	}
	for _, name := range []string{"system", "research", "outline", "draft", "intro", "section", "faq", "continue",
		"tone", "seo", "metadata", "keywords", "cluster", "image_featured", "image_inline"} {
		if out, err := p.render(name, data); err != nil || out == "" {
			t.Errorf("render(%s) = %q, %v", name, out, err)
		}
	}
	if _, err := p.render("missing", data); err == nil {
		t.Error("render(missing) succeeded")
	}
}

func TestGenerateKeywordsFilters(t *testing.T) {
	fake := llmtest.New(llmtest.Stop(`{"keywords": [
{"keyword": "crm for agencies", "intent": "commercial", "difficulty": 40},
{"keyword": "CRM for Agencies", "intent": "commercial", "difficulty": 40},
{"keyword": "crypto crm tools", "intent": "informational", "difficulty": 20},
{"keyword": "email automation guide", "intent": "informational", "difficulty": 30},
{"keyword": "agency pipeline tracking", "intent": "informational", "difficulty": 25},
{"keyword": "client portal software", "intent": "commercial", "difficulty": 50}]}`))
	o := NewOrchestrator(fake, MustLoadPrompts())
	gctx := model.GenerationContext{
		BannedTopics:      []string{"Crypto"},
		PublishedArticles: []model.PublishedArticle{{Title: "Email Automation Guide"}},
	}

	res, err := o.GenerateKeywords(context.Background(), model.KeywordJobInput{SeedKeyword: "crm", Count: 2}, gctx, llm.ProviderConfig{})
	if err != nil {
		t.Fatalf("GenerateKeywords() error = %v", err)
	}
	var got []string
	for _, k := range res.Keywords {
		got = append(got, k.Keyword)
	}
	if strings.Join(got, "|") != "crm for agencies|agency pipeline tracking" {
		t.Errorf("keywords = %v", got)
	}
	if prompt := fake.Calls()[0].Prompt; !strings.Contains(prompt, "Email Automation Guide") {
		t.Error("prompt does not list published articles")
	}
}

func TestGenerateClusterFilters(t *testing.T) {
	fake := llmtest.New(llmtest.Stop(`{"pillar": {"keyword": "agency crm", "title": "Agency CRM", "angle": "a"},
"articles": [
{"keyword": "agency crm", "title": "Agency CRM Again"},
{"keyword": "crm onboarding", "title": "CRM Onboarding for Agencies"},
{"keyword": "crm basics", "title": "CRM Basics"},
{"keyword": "crm reporting", "title": "CRM Reporting That Clients Read"}]}`))
	o := NewOrchestrator(fake, MustLoadPrompts())
	gctx := model.GenerationContext{PublishedArticles: []model.PublishedArticle{{Title: "CRM Basics"}}}

	res, err := o.GenerateCluster(context.Background(), model.ClusterJobInput{PillarKeyword: "agency crm", ClusterSize: 3}, gctx, llm.ProviderConfig{})
	if err != nil {
		t.Fatalf("GenerateCluster() error = %v", err)
	}
	var got []string
	for _, a := range res.Articles {
		got = append(got, a.Keyword)
	}
	if strings.Join(got, "|") != "crm onboarding|crm reporting" {
		t.Errorf("articles = %v", got)
	}
}
