package model

import "time"

// GenerationContext holds the read-only brand and voice parameters of one job.
type GenerationContext struct {
	WebsiteID         string
	BrandName         string
	BrandURL          string
	Audience          string
	Tone              string
	Niche             string
	WritingStyle      string
	BannedTopics      []string
	CTAText           string
	CTAURL            string
	ValueProposition  string
	Competitors       []string
	Products          []string
	GeographicFocus   string
	LinkCandidates    []LinkCandidate
	PublishedArticles []PublishedArticle
}

// LinkCandidate is an internal page the site wants linked from new content.
type LinkCandidate struct {
	Anchor string `json:"anchor"`
	URL    string `json:"url"`
}

// PublishedArticle is an existing article on the site.
type PublishedArticle struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	URL     string `json:"url"`
	Keyword string `json:"keyword"`
}

// ConsolidatedLink is a deduplicated internal link approved for insertion.
type ConsolidatedLink struct {
	Anchor string `json:"anchor"`
	URL    string `json:"url"`
}

// Citation is an external source verified during research.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ResearchResult is gathered before writing begins and never changes afterwards.
type ResearchResult struct {
	ContentGaps      []string   `json:"contentGaps"`
	MissingSubtopics []string   `json:"missingSubtopics"`
	KeyStatistics    []string   `json:"keyStatistics"`
	Citations        []Citation `json:"citations"`
	Notes            string     `json:"notes,omitempty"`
	Degraded         bool       `json:"degraded,omitempty"`
}

// OutlineSection kinds
type SectionKind string

const (
	SectionContent      SectionKind = "content"
	SectionKeyTakeaways SectionKind = "key_takeaways"
	SectionTOC          SectionKind = "toc"
	SectionFAQ          SectionKind = "faq"
)

// OutlineSection is one heading of the outline with its talking points.
type OutlineSection struct {
	Heading string      `json:"heading" validate:"required"`
	Points  []string    `json:"points"`
	Kind    SectionKind `json:"kind,omitempty"`
}

// Structural reports whether the section is exempt from the content-section cap.
func (s OutlineSection) Structural() bool {
	return s.Kind != "" && s.Kind != SectionContent
}

// Outline is the structured plan of the article.
type Outline struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Sections    []OutlineSection `json:"sections" validate:"required,min=1,dive"`
	UniqueAngle string           `json:"uniqueAngle"`
}

// ContentSections returns the sections that count against the length cap.
func (o *Outline) ContentSections() []OutlineSection {
	var out []OutlineSection
	for _, s := range o.Sections {
		if !s.Structural() {
			out = append(out, s)
		}
	}
	return out
}

// Candidate is one full version of the article produced by a stage.
type Candidate struct {
	Stage           Stage
	Text            string
	Words           int
	MissingSections int
	Cutoff          bool
}

// ImageRef points at an uploaded image.
type ImageRef struct {
	URL          string `json:"url"`
	AltText      string `json:"altText"`
	AfterHeading string `json:"afterHeading,omitempty"`
}

// SocialCaptions holds short promotional copy per network.
type SocialCaptions struct {
	Twitter  string `json:"twitter"`
	LinkedIn string `json:"linkedin"`
	Facebook string `json:"facebook"`
}

// ArticleMetadata is the structured output of the metadata stage.
type ArticleMetadata struct {
	Title             string         `json:"title" validate:"required"`
	Slug              string         `json:"slug"`
	Excerpt           string         `json:"excerpt" validate:"required"`
	MetaTitle         string         `json:"metaTitle" validate:"required,max=120"`
	MetaDescription   string         `json:"metaDescription" validate:"required,max=320"`
	SecondaryKeywords []string       `json:"secondaryKeywords"`
	Category          string         `json:"category"`
	Tags              []string       `json:"tags"`
	SocialCaptions    SocialCaptions `json:"socialCaptions"`
	StructuredData    map[string]any `json:"structuredData"`
	FeaturedImageAlt  string         `json:"featuredImageAlt"`
}

// GeneratedArticle is the final artifact of a successful article job.
type GeneratedArticle struct {
	Title             string         `json:"title"`
	Slug              string         `json:"slug"`
	Body              string         `json:"body"`
	Excerpt           string         `json:"excerpt"`
	MetaTitle         string         `json:"metaTitle"`
	MetaDescription   string         `json:"metaDescription"`
	FocusKeyword      string         `json:"focusKeyword"`
	SecondaryKeywords []string       `json:"secondaryKeywords"`
	Tags              []string       `json:"tags"`
	Category          string         `json:"category"`
	StructuredData    map[string]any `json:"structuredData"`
	SocialCaptions    SocialCaptions `json:"socialCaptions"`
	WordCount         int            `json:"wordCount"`
	ReadingTime       int            `json:"readingTime"`
	FeaturedImage     *ImageRef      `json:"featuredImage,omitempty"`
	InlineImages      []ImageRef     `json:"inlineImages,omitempty"`
	Research          ResearchResult `json:"research"`
	WinningStage      Stage          `json:"winningStage"`
	Warnings          []string       `json:"warnings,omitempty"`
	GeneratedAt       time.Time      `json:"generatedAt"`
}
