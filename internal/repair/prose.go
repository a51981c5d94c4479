package repair

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	splitAbove     = 60
	minChunkWords  = 12
	brandMentions  = 3
	firstPersonCap = 4
)

var (
	boundaryRe = regexp.MustCompile(`[.!?]["')\]*_”’]*\s+`)
	abbrevs    = map[string]bool{
		"mr": true, "mrs": true, "ms": true, "dr": true, "st": true, "vs": true, "inc": true,
		"ltd": true, "jr": true, "sr": true, "e.g": true, "i.e": true, "u.s": true, "no": true, "fig": true,
	}
)

// sentenceSpans returns [start,end) offsets of the sentences in s.
func sentenceSpans(s string) [][2]int {
	var spans [][2]int
	start := 0
	for _, m := range boundaryRe.FindAllStringIndex(s, -1) {
		if m[1] >= len(s) {
			break
		}
		next, _ := utf8.DecodeRuneInString(s[m[1]:])
		if !unicode.IsUpper(next) && !unicode.IsDigit(next) && !strings.ContainsRune(`"'*[(“`, next) {
			continue
		}
		if isAbbrev(s[start : m[0]+1]) {
			continue
		}
		end := m[1]
		for end > m[0] && unicode.IsSpace(rune(s[end-1])) {
			end--
		}
		spans = append(spans, [2]int{start, end})
		start = m[1]
	}
	if start < len(s) {
		spans = append(spans, [2]int{start, len(s)})
	}
	return spans
}

func isAbbrev(sentence string) bool {
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return false
	}
	w := strings.ToLower(strings.TrimRight(fields[len(fields)-1], "."))
	if abbrevs[w] {
		return true
	}
	r := []rune(w)
	return len(r) == 1 && unicode.IsLetter(r[0]) && len(fields) > 1
}

// joinParagraphs merges a short paragraph that reads like the tail of the
// previous sentence back into the paragraph before it.
func joinParagraphs(text string, _ *Context) (string, int) {
	lines := Parse(text)
	out := make([]Line, 0, len(lines))
	changed := 0
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if l.Kind != Prose || (i > 0 && lines[i-1].Kind == Prose) {
			out = append(out, l)
			continue
		}
		k := i
		for k < len(lines) && lines[k].Kind == Prose {
			k++
		}
		para := joinLines(lines[i:k])
		p := len(out) - 1
		for p >= 0 && (out[p].Kind == Blank || out[p].Kind == Rule) {
			p--
		}
		if p < 0 || p == len(out)-1 || out[p].Kind != Prose || wordCount(para) >= minChunkWords || !looksLikeContinuation(para) {
			out = append(out, lines[i:k]...)
			i = k - 1
			continue
		}
		out = out[:p+1]
		out[p].Text = strings.TrimRight(out[p].Text, " \t") + " " + para
		changed++
		i = k - 1
	}
	return Render(out), changed
}

func joinLines(lines []Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(l.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// splitParagraphs breaks prose paragraphs longer than sixty words into
// chunks at sentence boundaries. A chunk never starts with a continuation
// and a short trailing chunk stays with the one before it.
func splitParagraphs(text string, _ *Context) (string, int) {
	lines := Parse(text)
	out := make([]Line, 0, len(lines))
	changed := 0
	for i := 0; i < len(lines); i++ {
		if lines[i].Kind != Prose || (i > 0 && lines[i-1].Kind == Prose) {
			out = append(out, lines[i])
			continue
		}
		k := i
		for k < len(lines) && lines[k].Kind == Prose {
			k++
		}
		para := joinLines(lines[i:k])
		chunks := chunkParagraph(para)
		if len(chunks) < 2 {
			out = append(out, lines[i:k]...)
		} else {
			for n, c := range chunks {
				if n > 0 {
					out = append(out, Line{Kind: Blank})
				}
				out = append(out, Line{Text: c, Kind: Prose})
			}
			changed++
		}
		i = k - 1
	}
	return Render(out), changed
}

func chunkParagraph(para string) []string {
	if wordCount(para) <= splitAbove {
		return nil
	}
	var chunks, cur []string
	curWords := 0
	for _, sp := range sentenceSpans(para) {
		s := strings.TrimSpace(para[sp[0]:sp[1]])
		if s == "" {
			continue
		}
		w := wordCount(s)
		if len(cur) > 0 && curWords >= minChunkWords && curWords+w > splitAbove && !looksLikeContinuation(s) {
			chunks = append(chunks, strings.Join(cur, " "))
			cur, curWords = nil, 0
		}
		cur = append(cur, s)
		curWords += w
	}
	if len(cur) > 0 {
		if len(chunks) > 0 && curWords < minChunkWords {
			chunks[len(chunks)-1] += " " + strings.Join(cur, " ")
		} else {
			chunks = append(chunks, strings.Join(cur, " "))
		}
	}
	return chunks
}

var bareURLRe = regexp.MustCompile(`https?://\S+`)

// protectedSpans returns the offsets of links and bare URLs in s.
func protectedSpans(s string) [][2]int {
	var spans [][2]int
	for _, lk := range findLinks(s) {
		spans = append(spans, [2]int{lk.start, lk.end})
	}
	for _, m := range bareURLRe.FindAllStringIndex(s, -1) {
		spans = append(spans, [2]int{m[0], m[1]})
	}
	return spans
}

func inSpans(spans [][2]int, a, b int) bool {
	for _, sp := range spans {
		if a < sp[1] && b > sp[0] {
			return true
		}
	}
	return false
}

func textLine(k Kind) bool {
	return k == Prose || k == ListItem || k == Quote || k == TableRow
}

var leadRe = regexp.MustCompile(`^\s*(>\s*)*(([-*+]|\d+[.)])\s+)?`)

// atSentenceStart reports whether offset i in s begins a sentence.
func atSentenceStart(s string, i int) bool {
	before := s[:i]
	before = before[len(leadRe.FindString(before)):]
	before = strings.TrimRight(before, " \t*_\"'([“")
	if before == "" {
		return true
	}
	switch before[len(before)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

type edit struct {
	start, end int
	repl       string
}

// throttleLines walks matches of re over text lines in document order and
// rewrites every match that rewrite selects.
func throttleLines(text string, re *regexp.Regexp, rewrite func(n int, line string, m []int) (string, bool)) (string, int) {
	lines := Parse(text)
	n, changed := 0, 0
	for i, l := range lines {
		if !textLine(l.Kind) {
			continue
		}
		protected := protectedSpans(l.Text)
		var edits []edit
		for _, m := range re.FindAllStringIndex(l.Text, -1) {
			if inSpans(protected, m[0], m[1]) || !wordBounded(l.Text, m[0], m[1]) {
				continue
			}
			n++
			if repl, ok := rewrite(n, l.Text, m); ok {
				edits = append(edits, edit{m[0], m[1], repl})
			}
		}
		for j := len(edits) - 1; j >= 0; j-- {
			e := edits[j]
			lines[i].Text = lines[i].Text[:e.start] + e.repl + lines[i].Text[e.end:]
			changed++
		}
	}
	return Render(lines), changed
}

// wordBounded reports whether the match s[a:b] does not start or end
// inside a word.
func wordBounded(s string, a, b int) bool {
	first, _ := utf8.DecodeRuneInString(s[a:])
	if a > 0 && isWordRune(first) {
		if r, _ := utf8.DecodeLastRuneInString(s[:a]); isWordRune(r) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(s[:b])
	if b < len(s) && isWordRune(last) {
		if r, _ := utf8.DecodeRuneInString(s[b:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// throttleBrand keeps the first three mentions of the brand name and
// replaces the rest with "the platform". Headings and URLs are untouched.
// Paragraphs that grow past the limit are split again.
func throttleBrand(text string, rc *Context) (string, int) {
	name := strings.TrimSpace(rc.BrandName)
	if name == "" {
		return text, 0
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name))
	out, n := throttleLines(text, re, func(n int, line string, m []int) (string, bool) {
		if n <= brandMentions {
			return "", false
		}
		if atSentenceStart(line, m[0]) {
			return "The platform", true
		}
		return "the platform", true
	})
	if n > 0 {
		// the replacement can push a paragraph back over the split limit
		out, _ = splitParagraphs(out, rc)
	}
	return out, n
}

var firstPersonRe = regexp.MustCompile(`(?i)(in my experience|in our experience|from my experience|from our experience|based on my experience|based on our experience|in my opinion|speaking from experience|personally),\s*|(?i)(i've|i have|we've|we have) found that\s+`)

// throttleFirstPerson removes first-person experience openers beyond the
// fourth, recapitalising the sentence they started.
func throttleFirstPerson(text string, _ *Context) (string, int) {
	return throttleLines(text, firstPersonRe, func(n int, line string, m []int) (string, bool) {
		if n <= firstPersonCap {
			return "", false
		}
		if atSentenceStart(line, m[0]) && m[1] < len(line) {
			r, size := utf8.DecodeRuneInString(line[m[1]:])
			// the replacement spans the next rune so it can be capitalised
			m[1] += size
			return string(unicode.ToUpper(r)), true
		}
		return "", true
	})
}

var yearPhraseWords = `guide|best|top|trends|reviews?|rankings?|edition|updated|checklist|comparison|predictions|outlook|roundup`

// fixStaleYears moves last year's date in headings and listicle phrases to
// the current year, then re-syncs the table of contents.
func fixStaleYears(text string, rc *Context) (string, int) {
	now := rc.Now
	if now.IsZero() {
		now = time.Now()
	}
	prev := strconv.Itoa(now.Year() - 1)
	cur := strconv.Itoa(now.Year())
	yearRe := regexp.MustCompile(`\b` + prev + `\b`)
	phraseRe := regexp.MustCompile(`(?i)\b(` + yearPhraseWords + `)\b[^.\n]{0,30}?\b` + prev + `\b`)

	lines := Parse(text)
	changed, headings := 0, 0
	for i, l := range lines {
		switch {
		case l.Kind == Heading:
			if yearRe.MatchString(l.Text) {
				lines[i].Text = yearRe.ReplaceAllString(l.Text, cur)
				changed++
				headings++
			}
		case textLine(l.Kind):
			protected := protectedSpans(l.Text)
			out := l.Text
			for _, m := range reverse(phraseRe.FindAllStringIndex(l.Text, -1)) {
				if inSpans(protected, m[0], m[1]) {
					continue
				}
				out = out[:m[1]-len(prev)] + cur + out[m[1]:]
				changed++
			}
			lines[i].Text = out
		}
	}
	text = Render(lines)
	if headings > 0 {
		text, _ = repairTOC(text, rc)
	}
	return text, changed
}

func reverse(ms [][]int) [][]int {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
	return ms
}

var spacesRe = regexp.MustCompile(`(\S)[ \t]{2,}`)

// cleanup collapses repeated spaces and blank lines and trims the document.
func cleanup(text string, _ *Context) (string, int) {
	stripped, _ := cleanOrphanFragments(text)
	lines := Parse(stripped)
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Kind != Code && l.Kind != Fence {
			l.Text = strings.TrimRight(l.Text, " \t")
			if l.Kind != TableRow {
				l.Text = spacesRe.ReplaceAllString(l.Text, "$1 ")
			}
		}
		if l.Kind == Blank {
			l.Text = ""
			if len(out) == 0 || out[len(out)-1].Kind == Blank {
				continue
			}
		}
		out = append(out, l)
	}
	result := strings.TrimSpace(Render(out)) + "\n"
	if result == text {
		return text, 0
	}
	return result, 1
}
