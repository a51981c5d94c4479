package repair

import (
	"net/url"
	"regexp"
	"strings"
)

// MaxInternalLinks caps injected plus existing same-origin links.
const MaxInternalLinks = 15

// linkRe matches inline links and images: optional whitespace around the
// destination, <...> destinations, one level of balanced parentheses and
// "..", '..' or (..) titles.
var linkRe = regexp.MustCompile(`(!?)\[([^\]\n]*)\]\(\s*(<[^<>\n]*>|(?:[^()\s]|\([^()\s]*\))*)(?:\s+(?:"[^"\n]*"|'[^'\n]*'|\([^()\n]*\)))?\s*\)`)

var (
	refUseRe   = regexp.MustCompile(`(!?)\[([^\]\n]+)\](?:\[([^\]\n]*)\])?`)
	autolinkRe = regexp.MustCompile(`<(https?://[^<>\s]+)>`)
)

type link struct {
	start, end int
	image      bool
	anchor     string
	target     string
}

func findLinks(s string) []link {
	var out []link
	for _, m := range linkRe.FindAllStringSubmatchIndex(s, -1) {
		out = append(out, link{
			start:  m[0],
			end:    m[1],
			image:  m[3] > m[2],
			anchor: s[m[4]:m[5]],
			target: strings.TrimSuffix(strings.TrimPrefix(s[m[6]:m[7]], "<"), ">"),
		})
	}
	return out
}

// NormalizeURL lowercases scheme and host, drops the fragment, a leading
// "www." and any trailing slash so equivalent URLs compare equal.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Host returns the lowercased host of raw without a "www." prefix.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Resolve turns a site-relative path into an absolute URL on base.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func (c *Context) brandHost() string {
	return Host(c.BrandURL)
}

func (c *Context) sameOrigin(target string) bool {
	if strings.HasPrefix(target, "/") {
		return true
	}
	h := Host(target)
	return h != "" && h == c.brandHost()
}

// injectLinks wraps the first eligible occurrence of each consolidated
// link's anchor (or its two-word core) in a markdown link.
func injectLinks(text string, rc *Context) (string, int) {
	if len(rc.Links) == 0 {
		return text, 0
	}
	lines := Parse(text)

	present := map[string]bool{}
	internal := 0
	for _, l := range lines {
		for _, lk := range findLinks(l.Text) {
			if lk.image {
				continue
			}
			present[NormalizeURL(Resolve(rc.BrandURL, lk.target))] = true
			if rc.sameOrigin(lk.target) {
				internal++
			}
		}
	}

	changed := 0
	for _, cl := range rc.Links {
		if internal >= MaxInternalLinks {
			break
		}
		key := NormalizeURL(cl.URL)
		if cl.URL == "" || present[key] {
			continue
		}
		for _, phrase := range anchorPhrases(cl.Anchor) {
			if injectPhrase(lines, phrase, cl.URL) {
				present[key] = true
				internal++
				changed++
				break
			}
		}
	}
	return Render(lines), changed
}

func injectPhrase(lines []Line, phrase, target string) bool {
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
	if err != nil {
		return false
	}
	for i, l := range lines {
		if l.Kind != Prose {
			continue
		}
		for _, sp := range sentenceSpans(l.Text) {
			sentence := l.Text[sp[0]:sp[1]]
			if strings.Contains(sentence, "[") || strings.Contains(sentence, "http://") || strings.Contains(sentence, "https://") {
				continue
			}
			loc := re.FindStringIndex(sentence)
			if loc == nil {
				continue
			}
			a, b := sp[0]+loc[0], sp[0]+loc[1]
			lines[i].Text = l.Text[:a] + "[" + l.Text[a:b] + "](" + target + ")" + l.Text[b:]
			return true
		}
	}
	return false
}

var phraseStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "how": true, "in": true, "of": true,
	"on": true, "the": true, "to": true, "what": true, "with": true, "your": true,
}

// anchorPhrases returns the anchor and, when different, its first two
// significant words.
func anchorPhrases(anchor string) []string {
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return nil
	}
	out := []string{anchor}
	var core []string
	for _, w := range strings.Fields(anchor) {
		if phraseStopwords[strings.ToLower(w)] {
			continue
		}
		core = append(core, w)
		if len(core) == 2 {
			break
		}
	}
	if len(core) == 2 {
		if c := strings.Join(core, " "); !strings.EqualFold(c, anchor) {
			out = append(out, c)
		}
	}
	return out
}

var (
	splitTargetRe  = regexp.MustCompile(`\[([^\]\n]+)\]\(\s*([^)\s]*)\s*\n\s*([^)\s]*)\s*\)`)
	bareTLDPathRe  = regexp.MustCompile(`^(com|net|org|io|co|ai|app|dev)/(.*)$`)
	orphanLineRe   = regexp.MustCompile(`(?m)^[ \t]*(?:(?:com|net|org|io|co|ai|app|dev)/[\w\-./]*|/[\w\-]+(?:/[\w\-]+)*/?)\)?[ \t]*$\n?`)
	orphanInlineRe = regexp.MustCompile(`\s\((?:com|net|org|io|co|ai|app|dev)/[\w\-./]*\)`)
)

// repairBrokenLinks rejoins link targets split across lines, rebuilds
// bare-path targets against the brand URL and removes URL fragments left
// behind on their own.
func repairBrokenLinks(text string, rc *Context) (string, int) {
	changed := 0
	text = splitTargetRe.ReplaceAllStringFunc(text, func(m string) string {
		changed++
		sm := splitTargetRe.FindStringSubmatch(m)
		return "[" + sm[1] + "](" + sm[2] + sm[3] + ")"
	})

	lines := Parse(text)
	for i, l := range lines {
		if l.Kind == Code || l.Kind == Fence {
			continue
		}
		links := findLinks(l.Text)
		for j := len(links) - 1; j >= 0; j-- {
			lk := links[j]
			fixed, ok := rebuildTarget(lk.target, rc)
			if !ok {
				continue
			}
			prefix := "["
			if lk.image {
				prefix = "!["
			}
			lines[i].Text = l.Text[:lk.start] + prefix + lk.anchor + "](" + fixed + ")" + l.Text[lk.end:]
			l = lines[i]
			changed++
		}
	}
	text = Render(lines)

	text, n := cleanOrphanFragments(text)
	return text, changed + n
}

func rebuildTarget(target string, rc *Context) (string, bool) {
	if target == "" || rc.BrandURL == "" {
		return "", false
	}
	lower := strings.ToLower(target)
	for _, p := range []string{"http://", "https://", "#", "mailto:", "tel:", "/"} {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	base := strings.TrimRight(rc.BrandURL, "/")
	host := rc.brandHost()
	switch {
	case host != "" && (strings.HasPrefix(lower, host+"/") || strings.HasPrefix(lower, "www."+host+"/") || lower == host):
		return "https://" + target, true
	case bareTLDPathRe.MatchString(lower):
		m := bareTLDPathRe.FindStringSubmatch(target)
		if strings.HasSuffix(host, "."+strings.ToLower(m[1])) {
			return base + "/" + m[2], true
		}
	}
	return "", false
}

func cleanOrphanFragments(text string) (string, int) {
	n := len(orphanLineRe.FindAllStringIndex(text, -1)) + len(orphanInlineRe.FindAllStringIndex(text, -1))
	if n == 0 {
		return text, 0
	}
	text = orphanLineRe.ReplaceAllString(text, "")
	text = orphanInlineRe.ReplaceAllString(text, "")
	return text, n
}

// stripHallucinatedLinks demotes links to plain anchor text unless they
// point at an approved internal link, a verified citation or a citation's
// host. Anchors inside the document are always kept. Reference definitions
// with an unapproved target are removed together with their uses. Anchors
// freed by a demotion can then take an approved link.
func stripHallucinatedLinks(text string, rc *Context) (string, int) {
	allowed := map[string]bool{}
	for _, l := range rc.Links {
		allowed[NormalizeURL(l.URL)] = true
	}
	cited := map[string]bool{}
	citedHosts := map[string]bool{}
	for _, c := range rc.Citations {
		cited[NormalizeURL(c.URL)] = true
		if h := Host(c.URL); h != "" {
			citedHosts[h] = true
		}
	}

	keep := func(target string) bool {
		if strings.HasPrefix(target, "#") {
			return true
		}
		if rc.sameOrigin(target) {
			return allowed[NormalizeURL(Resolve(rc.BrandURL, target))]
		}
		norm := NormalizeURL(target)
		return cited[norm] || allowed[norm] || citedHosts[Host(target)]
	}

	text, dropped, changed := dropDefinitions(text, keep)
	text, n := demoteLinks(text, func(lk link, _ int) bool { return !keep(lk.target) })
	changed += n
	if len(dropped) > 0 {
		text, n = demoteReferences(text, dropped)
		changed += n
	}
	text, n = demoteAutolinks(text, keep)
	changed += n
	if changed > 0 {
		text, n = injectLinks(text, rc)
		changed += n
	}
	return text, changed
}

func refLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// dropDefinitions removes reference definitions whose target keep rejects
// and returns their labels.
func dropDefinitions(text string, keep func(string) bool) (string, map[string]bool, int) {
	lines := Parse(text)
	dropped := map[string]bool{}
	out := lines[:0]
	for _, l := range lines {
		if l.Kind == Definition {
			m := refDefRe.FindStringSubmatch(l.Text)
			target := strings.TrimSuffix(strings.TrimPrefix(m[2], "<"), ">")
			if !keep(target) {
				dropped[refLabel(m[1])] = true
				continue
			}
		}
		out = append(out, l)
	}
	if len(dropped) == 0 {
		return text, nil, 0
	}
	return Render(out), dropped, len(dropped)
}

// demoteReferences replaces full, collapsed and shortcut reference links
// whose definition was dropped with their text.
func demoteReferences(text string, dropped map[string]bool) (string, int) {
	changed := 0
	out := editLines(text, func(s string) string {
		var b strings.Builder
		last := 0
		for _, m := range refUseRe.FindAllStringSubmatchIndex(s, -1) {
			if m[3] > m[2] || (m[1] < len(s) && (s[m[1]] == '(' || s[m[1]] == ':')) {
				continue
			}
			label := s[m[4]:m[5]]
			if m[6] >= 0 && m[7] > m[6] {
				label = s[m[6]:m[7]]
			}
			if !dropped[refLabel(label)] {
				continue
			}
			b.WriteString(s[last:m[0]])
			b.WriteString(s[m[4]:m[5]])
			last = m[1]
			changed++
		}
		if last == 0 {
			return s
		}
		b.WriteString(s[last:])
		return b.String()
	})
	return out, changed
}

// demoteAutolinks unwraps <https://...> autolinks that keep rejects into
// plain text.
func demoteAutolinks(text string, keep func(string) bool) (string, int) {
	changed := 0
	out := editLines(text, func(s string) string {
		return autolinkRe.ReplaceAllStringFunc(s, func(m string) string {
			target := m[1 : len(m)-1]
			if keep(target) {
				return m
			}
			changed++
			return target
		})
	})
	return out, changed
}

// editLines applies fn to every line outside code.
func editLines(text string, fn func(string) string) string {
	lines := Parse(text)
	for i, l := range lines {
		if l.Kind == Code || l.Kind == Fence {
			continue
		}
		lines[i].Text = fn(l.Text)
	}
	return Render(lines)
}

// capDuplicateLinks demotes every use of a URL beyond its second.
func capDuplicateLinks(text string, _ *Context) (string, int) {
	seen := map[string]int{}
	return demoteLinks(text, func(lk link, _ int) bool {
		if strings.HasPrefix(lk.target, "#") {
			return false
		}
		key := NormalizeURL(lk.target)
		seen[key]++
		return seen[key] > 2
	})
}

// demoteLinks replaces non-image links for which drop returns true with
// their anchor text, in document order.
func demoteLinks(text string, drop func(lk link, line int) bool) (string, int) {
	lines := Parse(text)
	changed := 0
	for i, l := range lines {
		if l.Kind == Code || l.Kind == Fence {
			continue
		}
		links := findLinks(l.Text)
		if len(links) == 0 {
			continue
		}
		var b strings.Builder
		last := 0
		for _, lk := range links {
			if lk.image || !drop(lk, i) {
				continue
			}
			b.WriteString(l.Text[last:lk.start])
			b.WriteString(lk.anchor)
			last = lk.end
			changed++
		}
		if last > 0 {
			b.WriteString(l.Text[last:])
			lines[i].Text = b.String()
		}
	}
	return Render(lines), changed
}
