package generation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/logger"
)

const (
	tailWindow    = 1400
	restartProbe  = 200
	minOverlap    = 30
	defaultMaxCon = 3
)

// ContinuationResult is the stitched output of one continuation-protected call.
type ContinuationResult struct {
	Text          string
	Truncated     bool
	CutOff        bool
	FinishReason  string
	OutputTokens  int
	Continuations int
}

// ContinuationEngine asks the model to keep writing when a response stops at
// the token ceiling, mid-sentence or short of a word floor.
type ContinuationEngine struct {
	gen     llm.Generator
	prompts *Prompts
	log     *logger.Logger
}

func NewContinuationEngine(gen llm.Generator, prompts *Prompts, log *logger.Logger) *ContinuationEngine {
	if log == nil {
		log = logger.Nop()
	}
	return &ContinuationEngine{gen: gen, prompts: prompts, log: log}
}

// Generate runs prompt and up to maxContinuations follow-up calls. An error on
// the first call is returned; a failed follow-up ends the loop and keeps what
// was accumulated.
func (e *ContinuationEngine) Generate(ctx context.Context, prompt, system string, opts llm.Options, label string, maxContinuations, minWords int) (*ContinuationResult, error) {
	if maxContinuations < 0 {
		maxContinuations = defaultMaxCon
	}
	resp, err := e.gen.GenerateTextWithMeta(ctx, prompt, system, opts)
	if err != nil {
		return nil, err
	}

	res := &ContinuationResult{
		Text:         strings.TrimRight(resp.Text, " \t\n"),
		Truncated:    resp.Truncated,
		FinishReason: resp.FinishReason,
		OutputTokens: resp.OutputTokens,
	}
	for i := 0; i < maxContinuations && needsMore(res, minWords); i++ {
		tail := lastRunes(res.Text, tailWindow)
		cp, err := e.prompts.render("continue", promptData{Tail: tail, MinWords: minWords, Words: WordCount(res.Text)})
		if err != nil {
			return nil, err
		}
		follow, err := e.gen.GenerateTextWithMeta(ctx, cp, system, opts)
		if err != nil {
			e.log.Warn("continuation failed, keeping partial text",
				"label", label, "continuation", i+1, "error", err)
			break
		}
		res.OutputTokens += follow.OutputTokens
		res.FinishReason = follow.FinishReason
		res.Truncated = follow.Truncated

		piece := MergePiece(res.Text, follow.Text)
		if strings.TrimSpace(piece) == "" {
			e.log.Debug("continuation added nothing new", "label", label, "continuation", i+1)
			continue
		}
		res.Text = strings.TrimRight(join(res.Text, piece), " \t\n")
		res.Continuations++
		e.log.Debug("continuation appended",
			"label", label, "continuation", res.Continuations, "words", WordCount(res.Text))
	}

	res.CutOff = EndsMidSentence(res.Text)
	return res, nil
}

func needsMore(res *ContinuationResult, minWords int) bool {
	if res.Truncated || EndsMidSentence(res.Text) {
		return true
	}
	return minWords > 0 && WordCount(res.Text) < minWords
}

// MergePiece returns the part of follow that should be appended to acc. A
// follow-up that restarts the text from the top keeps only what comes after
// the point where it diverges from acc, or nothing when it diverges early. A
// follow-up that repeats the end of acc has the repeated part removed.
func MergePiece(acc, follow string) string {
	follow = strings.TrimLeft(follow, " \t")
	if len(acc) >= restartProbe && len(follow) >= restartProbe && follow[:restartProbe] == acc[:restartProbe] {
		p := commonPrefix(acc, follow)
		if p <= len(acc)/2 {
			return ""
		}
		follow = follow[p:]
	}
	return follow[tailOverlap(acc, follow):]
}

// commonPrefix returns the byte length of the shared prefix of a and b,
// backed off to a rune boundary.
func commonPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	for i > 0 && i < len(b) && !utf8.RuneStart(b[i]) {
		i--
	}
	return i
}

// tailOverlap returns the length of the longest prefix of follow, between
// minOverlap and the tail window, that acc already ends with.
func tailOverlap(acc, follow string) int {
	limit := tailWindow
	if len(follow) < limit {
		limit = len(follow)
	}
	if len(acc) < limit {
		limit = len(acc)
	}
	for k := limit; k >= minOverlap; k-- {
		if strings.HasSuffix(acc, follow[:k]) {
			return k
		}
	}
	// whitespace differences at the seam
	trimmed := strings.TrimLeft(follow, " \n\t")
	if off := len(follow) - len(trimmed); off > 0 {
		if k := tailOverlap(acc, trimmed); k > 0 {
			return off + k
		}
	}
	return 0
}

// join appends piece to acc, adding a space when neither side supplies one.
func join(acc, piece string) string {
	if acc == "" {
		return piece
	}
	last, _ := utf8.DecodeLastRuneInString(acc)
	first, _ := utf8.DecodeRuneInString(piece)
	switch {
	case last == ' ' || last == '\n' || first == ' ' || first == '\n':
		return acc + piece
	case strings.ContainsRune(".,;:!?)", first):
		return acc + piece
	case first == '#' || first == '|' || (first == '-' && strings.HasPrefix(piece, "- ")):
		return acc + "\n\n" + piece
	}
	return acc + " " + piece
}

// firstRunes returns at most the first n bytes of s, cut on a rune boundary.
func firstRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

func lastRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
