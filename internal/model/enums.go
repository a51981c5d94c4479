package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job kinds
type JobKind string

const (
	JobKindArticle      JobKind = "ARTICLE_GENERATION"
	JobKindKeywords     JobKind = "KEYWORD_SUGGESTION"
	JobKindTopicCluster JobKind = "TOPIC_CLUSTER"
)

// Content length tiers
type ContentLength string

const (
	ContentLengthShort  ContentLength = "SHORT"
	ContentLengthMedium ContentLength = "MEDIUM"
	ContentLengthLong   ContentLength = "LONG"
	ContentLengthPillar ContentLength = "PILLAR"
)

// LengthTier holds the budgets for one content length.
type LengthTier struct {
	MinWords    int
	TargetWords int
	MaxWords    int
	// MaxSections applies when the FAQ block is generated; MaxSectionsNoFAQ otherwise.
	MaxSections      int
	MaxSectionsNoFAQ int
	MaxTokens        int
}

var lengthTiers = map[ContentLength]LengthTier{
	ContentLengthShort:  {MinWords: 700, TargetWords: 1000, MaxWords: 1400, MaxSections: 3, MaxSectionsNoFAQ: 3, MaxTokens: 3000},
	ContentLengthMedium: {MinWords: 1200, TargetWords: 1600, MaxWords: 2200, MaxSections: 4, MaxSectionsNoFAQ: 5, MaxTokens: 5000},
	ContentLengthLong:   {MinWords: 2000, TargetWords: 2600, MaxWords: 3400, MaxSections: 6, MaxSectionsNoFAQ: 7, MaxTokens: 8000},
	ContentLengthPillar: {MinWords: 3200, TargetWords: 4000, MaxWords: 5200, MaxSections: 8, MaxSectionsNoFAQ: 9, MaxTokens: 12000},
}

// Tier returns the budgets for the length, falling back to MEDIUM.
func (l ContentLength) Tier() LengthTier {
	if t, ok := lengthTiers[l]; ok {
		return t
	}
	return lengthTiers[ContentLengthMedium]
}

// SectionCap returns the maximum number of content sections for the tier.
func (t LengthTier) SectionCap(includeFAQ bool) int {
	if includeFAQ {
		return t.MaxSections
	}
	return t.MaxSectionsNoFAQ
}

// Stage names
type Stage string

const (
	StageResearch Stage = "research"
	StageOutline  Stage = "outline"
	StageDraft    Stage = "draft"
	StageTone     Stage = "tone"
	StageSEO      Stage = "seo"
	StageMetadata Stage = "metadata"
	StageImage    Stage = "image"
)

// Stages lists the article pipeline in execution order.
var Stages = []Stage{
	StageResearch, StageOutline, StageDraft, StageTone, StageSEO, StageMetadata, StageImage,
}
