package repair

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fragmentLineRe   = regexp.MustCompile(`^\W*(\d+([.,]\d+)?%?|[A-Za-z]{1,3})\W*$`)
	fragmentPrefixRe = regexp.MustCompile(`^(\d+([.,]\d+)?%?|[A-Z])[.,:;]\s+[a-z]`)
	sentenceStartRe  = regexp.MustCompile(`[.!?]["')\]]*\s+["'(*]*[A-Z#]`)
)

// stripOpeningFragment removes a short non-sentence fragment such as "S." or
// "25%." that a response sometimes opens with.
func stripOpeningFragment(text string, _ *Context) (string, int) {
	changed := 0
	for attempt := 0; attempt < 3; attempt++ {
		trimmed := strings.TrimLeft(text, " \t\n")
		end := strings.IndexByte(trimmed, '\n')
		if end < 0 {
			end = len(trimmed)
		}
		first := strings.TrimSpace(trimmed[:end])
		if first == "" || strings.HasPrefix(first, "#") || len(first) >= 60 {
			break
		}
		if fragmentLineRe.MatchString(first) && !listRe.MatchString(first) {
			text = trimmed[end:]
			changed++
			continue
		}
		if !fragmentPrefixRe.MatchString(first) {
			break
		}
		window := trimmed
		if len(window) > 300 {
			window = window[:300]
		}
		loc := sentenceStartRe.FindStringIndex(window)
		if loc == nil {
			break
		}
		text = trimmed[loc[1]-1:]
		changed++
	}
	return text, changed
}

// dedupeSections drops repeated H1/H2 sections and demotes every H1 after
// the first to H2.
func dedupeSections(text string, _ *Context) (string, int) {
	lines := Parse(text)
	seen := map[string]bool{}
	firstH1 := false
	changed := 0
	out := make([]Line, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if l.Kind != Heading || l.Level > 2 {
			out = append(out, l)
			continue
		}
		key := normKey(HeadingText(l))
		if seen[key] {
			changed++
			if l.Level == 1 {
				// a restated title keeps its content
				continue
			}
			i = sectionEnd(lines, i) - 1
			continue
		}
		seen[key] = true
		if l.Level == 1 {
			if firstH1 {
				l.Text = "#" + strings.TrimLeft(l.Text, " ")
				l.Level = 2
				changed++
			}
			firstH1 = true
		}
		out = append(out, l)
	}
	return Render(out), changed
}

// sectionEnd returns the index of the next heading at or above the level of
// the heading at i, or len(lines).
func sectionEnd(lines []Line, i int) int {
	level := lines[i].Level
	for j := i + 1; j < len(lines); j++ {
		if lines[j].Kind == Heading && lines[j].Level <= level {
			return j
		}
	}
	return len(lines)
}

var faqHeadingRe = regexp.MustCompile(`(?i)\b(faqs?|frequently asked questions)\b`)

// repairFAQ removes text between an H2 or H3 FAQ heading and its first
// question, which must be a heading one level below it.
func repairFAQ(text string, _ *Context) (string, int) {
	lines := Parse(text)
	changed := 0
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if l.Kind != Heading || l.Level < 2 || l.Level > 3 || !faqHeadingRe.MatchString(HeadingText(l)) {
			continue
		}
		end := sectionEnd(lines, i)
		first := -1
		for j := i + 1; j < end; j++ {
			if lines[j].Kind == Heading {
				if lines[j].Level == l.Level+1 {
					first = j
				}
				break
			}
		}
		if first < 0 {
			continue
		}
		orphan := 0
		for j := i + 1; j < first; j++ {
			if lines[j].Kind != Blank {
				orphan++
			}
		}
		if orphan == 0 {
			continue
		}
		rebuilt := append([]Line{}, lines[:i+1]...)
		rebuilt = append(rebuilt, Line{Kind: Blank})
		rebuilt = append(rebuilt, lines[first:]...)
		lines = rebuilt
		changed += orphan
	}
	return Render(lines), changed
}

var (
	tocHeadingRe = regexp.MustCompile(`(?i)^(table of contents|contents|in this (article|guide|post))$`)
	tocEntryRe   = regexp.MustCompile(`^(\s*)([-*+]|\d+[.)])\s+(.*)$`)
)

type headingRef struct {
	text string
	slug string
	key  string
}

// repairTOC deduplicates the table of contents, rejoins entries broken over
// lines and points every entry at the slug of an existing heading.
// Entries that match no heading are removed, as is a TOC left empty.
func repairTOC(text string, _ *Context) (string, int) {
	lines := Parse(text)
	start := -1
	changed := 0
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if l.Kind != Heading || !tocHeadingRe.MatchString(normKey(HeadingText(l))) {
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		end := tocBlockEnd(lines, i)
		lines = append(lines[:i], lines[end:]...)
		changed++
		i--
	}
	if start < 0 {
		return text, 0
	}

	end := tocBlockEnd(lines, start)
	var entries []Line
	for j := start + 1; j < end; j++ {
		l := lines[j]
		switch {
		case l.Kind == ListItem:
			entries = append(entries, l)
		case l.Kind == Prose && len(entries) > 0:
			entries[len(entries)-1].Text += " " + strings.TrimSpace(l.Text)
			changed++
		}
	}

	var refs []headingRef
	counts := map[string]int{}
	for j := end; j < len(lines); j++ {
		l := lines[j]
		if l.Kind != Heading || l.Level < 2 || l.Level > 3 {
			continue
		}
		h := HeadingText(l)
		slug := Slug(h)
		if n := counts[slug]; n > 0 {
			counts[slug]++
			slug = fmt.Sprintf("%s-%d", slug, n)
		} else {
			counts[slug] = 1
		}
		refs = append(refs, headingRef{text: h, slug: slug, key: normKey(h)})
	}

	var rebuilt []Line
	for _, e := range entries {
		m := tocEntryRe.FindStringSubmatch(e.Text)
		if m == nil {
			changed++
			continue
		}
		ref, ok := matchHeading(refs, entryLabel(m[3]))
		if !ok {
			changed++
			continue
		}
		fixed := fmt.Sprintf("%s%s [%s](#%s)", m[1], m[2], ref.text, ref.slug)
		if fixed != e.Text {
			changed++
		}
		rebuilt = append(rebuilt, Line{Text: fixed, Kind: ListItem})
	}

	head := append([]Line{}, lines[:start]...)
	if len(rebuilt) == 0 {
		changed++
	} else {
		head = append(head, lines[start], Line{Kind: Blank})
		head = append(head, rebuilt...)
		head = append(head, Line{Kind: Blank})
	}
	head = append(head, lines[end:]...)
	if changed == 0 {
		return text, 0
	}
	return Render(head), changed
}

// tocBlockEnd returns the index of the first line after the TOC heading at i
// that is neither blank, a list item nor a prose continuation of one.
func tocBlockEnd(lines []Line, i int) int {
	sawEntry := false
	for j := i + 1; j < len(lines); j++ {
		switch lines[j].Kind {
		case Blank:
		case ListItem:
			sawEntry = true
		case Prose:
			if !sawEntry || lines[j-1].Kind == Blank {
				return j
			}
		default:
			return j
		}
	}
	return len(lines)
}

func entryLabel(s string) string {
	if m := linkRe.FindStringSubmatch(s); m != nil {
		return m[2]
	}
	return PlainText(s)
}

func matchHeading(refs []headingRef, label string) (headingRef, bool) {
	key := normKey(label)
	if key == "" {
		return headingRef{}, false
	}
	for _, r := range refs {
		if r.key == key {
			return r, true
		}
	}
	for _, r := range refs {
		if FuzzyMatch(r.key, key) {
			return r, true
		}
	}
	return headingRef{}, false
}

// FuzzyMatch reports whether two normalised headings name the same section:
// one contains the other or they share most of their words.
func FuzzyMatch(a, b string) bool {
	a, b = normKey(a), normKey(b)
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	aw, bw := strings.Fields(a), strings.Fields(b)
	set := make(map[string]bool, len(aw))
	for _, w := range aw {
		set[w] = true
	}
	shared := 0
	for _, w := range bw {
		if set[w] {
			shared++
		}
	}
	shorter := len(aw)
	if len(bw) < shorter {
		shorter = len(bw)
	}
	return float64(shared) >= 0.6*float64(shorter) && shared >= 2
}

// removeRules deletes horizontal rules outside code.
func removeRules(text string, _ *Context) (string, int) {
	lines := Parse(text)
	out := lines[:0]
	changed := 0
	for _, l := range lines {
		if l.Kind == Rule {
			changed++
			continue
		}
		out = append(out, l)
	}
	return Render(out), changed
}

// trimTruncatedEnding cuts a final paragraph that stops mid-sentence back to
// its last complete sentence, or drops it when it has none.
func trimTruncatedEnding(text string, _ *Context) (string, int) {
	changed := 0
	for attempt := 0; attempt < 3; attempt++ {
		lines := Parse(text)
		last := len(lines) - 1
		for last >= 0 && lines[last].Kind == Blank {
			last--
		}
		if last < 0 {
			break
		}
		l := lines[last]
		if (l.Kind != Prose && l.Kind != Quote) || endsWithTerminal(l.Text) {
			break
		}
		if cut := lastTerminal(l.Text); cut > 0 {
			lines[last].Text = l.Text[:cut]
			lines = lines[:last+1]
		} else {
			lines = lines[:last]
		}
		text = Render(lines)
		changed++
	}
	return text, changed
}

// lastTerminal returns the index just past the last sentence terminal in s,
// including closing quotes or brackets, or 0. Terminals inside links and
// URLs do not count.
func lastTerminal(s string) int {
	protected := protectedSpans(s)
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if inSpans(protected, i, i+1) {
				continue
			}
			j := i + 1
			for j < len(s) && strings.ContainsRune(`"')]*_`, rune(s[j])) {
				j++
			}
			return j
		}
	}
	return 0
}
