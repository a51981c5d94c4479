package generation

import (
	"strings"
	"unicode"

	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/repair"
)

// WordCount counts whitespace-separated words, ignoring markdown markers.
func WordCount(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if strings.Trim(f, "#*-_>|`") != "" {
			n++
		}
	}
	return n
}

// EndsMidSentence reports whether text stops inside a sentence. Text ending on
// a heading, list item or table row counts as complete.
func EndsMidSentence(text string) bool {
	return strings.TrimSpace(text) != "" && !repair.EndsComplete(text)
}

// Headings returns the plain text of every H2 and H3 heading in text.
func Headings(text string) []string {
	var out []string
	for _, l := range repair.Parse(text) {
		if l.Kind == repair.Heading && l.Level >= 2 && l.Level <= 3 {
			out = append(out, repair.HeadingText(l))
		}
	}
	return out
}

// MissingSections counts content sections of the outline with no matching
// heading in text.
func MissingSections(text string, sections []model.OutlineSection) int {
	headings := Headings(text)
	missing := 0
	for _, s := range sections {
		if s.Structural() {
			continue
		}
		found := false
		for _, h := range headings {
			if repair.FuzzyMatch(h, s.Heading) {
				found = true
				break
			}
		}
		if !found {
			missing++
		}
	}
	return missing
}

// Annotate builds the ranking record of one stage output.
func Annotate(stage model.Stage, text string, sections []model.OutlineSection, truncated bool) model.Candidate {
	return model.Candidate{
		Stage:           stage,
		Text:            text,
		Words:           WordCount(text),
		MissingSections: MissingSections(text, sections),
		Cutoff:          truncated || EndsMidSentence(text),
	}
}

// Slugify turns s into a lowercase hyphenated URL slug.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	slug := b.String()
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}

// ReadingTime is minutes at 200 words per minute, at least one.
func ReadingTime(words int) int {
	m := (words + 199) / 200
	if m < 1 {
		return 1
	}
	return m
}
