package repair

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind classifies one markdown line.
type Kind int

const (
	Blank Kind = iota
	Heading
	ListItem
	TableRow
	Fence
	Code
	Image
	Rule
	Quote
	Prose
	Definition
)

// Line is one tokenized markdown line.
type Line struct {
	Text  string
	Kind  Kind
	Level int
}

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	ruleRe     = regexp.MustCompile(`^\s{0,3}([-*_])(\s*[-*_]){2,}\s*$`)
	listRe     = regexp.MustCompile(`^(\s*)([-*+]|\d+[.)])\s+(.*)$`)
	imageRe    = regexp.MustCompile(`^\s*!\[[^\]]*\]\([^)]*\)\s*$`)
	fenceStart = regexp.MustCompile("^\\s*(```|~~~)")
	refDefRe   = regexp.MustCompile(`^\s{0,3}\[([^\]\n^][^\]\n]*)\]:\s*(<[^<>\n]*>|\S+)(?:\s+.*)?$`)
)

// Parse splits text into classified lines.
func Parse(text string) []Line {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raw))
	inFence := false
	for _, r := range raw {
		lines = append(lines, classify(r, &inFence))
	}
	return lines
}

func classify(r string, inFence *bool) Line {
	if fenceStart.MatchString(r) {
		*inFence = !*inFence
		return Line{Text: r, Kind: Fence}
	}
	if *inFence {
		return Line{Text: r, Kind: Code}
	}
	trimmed := strings.TrimSpace(r)
	switch {
	case trimmed == "":
		return Line{Text: r, Kind: Blank}
	case headingRe.MatchString(r):
		m := headingRe.FindStringSubmatch(r)
		return Line{Text: r, Kind: Heading, Level: len(m[1])}
	case refDefRe.MatchString(r):
		return Line{Text: r, Kind: Definition}
	case ruleRe.MatchString(r) && !strings.Contains(trimmed, "|"):
		if c := trimmed[0]; c == '-' || c == '*' || c == '_' {
			return Line{Text: r, Kind: Rule}
		}
	case listRe.MatchString(r):
		return Line{Text: r, Kind: ListItem}
	case strings.HasPrefix(trimmed, "|"):
		return Line{Text: r, Kind: TableRow}
	case imageRe.MatchString(r):
		return Line{Text: r, Kind: Image}
	case strings.HasPrefix(trimmed, ">"):
		return Line{Text: r, Kind: Quote}
	}
	return Line{Text: r, Kind: Prose}
}

// Render joins lines back into text.
func Render(lines []Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// reclassify re-tokenizes after a pass edited line text in place.
func reclassify(lines []Line) []Line {
	return Parse(Render(lines))
}

// HeadingText returns the heading's text with inline markdown removed.
func HeadingText(l Line) string {
	m := headingRe.FindStringSubmatch(l.Text)
	if m == nil {
		return strings.TrimSpace(l.Text)
	}
	return PlainText(m[2])
}

var emphasisRe = regexp.MustCompile("[*_`]+")

// PlainText strips link syntax and emphasis markers and collapses runs of
// whitespace.
func PlainText(s string) string {
	s = linkRe.ReplaceAllString(s, "$2")
	s = emphasisRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// normKey lowercases s and keeps only letters, digits and single spaces.
func normKey(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(PlainText(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// Slug returns the GitHub-style anchor for heading text.
func Slug(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(PlainText(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

var subordinators = map[string]bool{
	"after": true, "although": true, "and": true, "as": true, "because": true, "before": true,
	"but": true, "if": true, "or": true, "since": true, "so": true, "though": true,
	"unless": true, "until": true, "when": true, "whereas": true, "which": true, "while": true,
}

// looksLikeContinuation reports whether s reads like the tail of a sentence
// that was split off: it starts lowercase or with a subordinating conjunction.
func looksLikeContinuation(s string) bool {
	s = strings.TrimLeft(s, " \t*_\"'(")
	if s == "" {
		return false
	}
	first := []rune(s)[0]
	if unicode.IsLower(first) {
		return true
	}
	word := strings.ToLower(strings.TrimRight(strings.Fields(s)[0], ",.;:"))
	return subordinators[word]
}

// EndsComplete reports whether text ends on a terminal sentence, a heading,
// a list item, a table row, an image or a code fence.
func EndsComplete(text string) bool {
	lines := Parse(text)
	for i := len(lines) - 1; i >= 0; i-- {
		l := lines[i]
		switch l.Kind {
		case Blank:
			continue
		case Prose, Quote:
			return endsWithTerminal(l.Text)
		default:
			return true
		}
	}
	return false
}

func endsWithTerminal(s string) bool {
	s = strings.TrimRight(s, " \t*_\"')]”’")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return strings.HasSuffix(s, "…")
}
