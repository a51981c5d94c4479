// Package generation turns a keyword and a site's brand context into a
// finished article through a fixed sequence of model-driven stages.
package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/observability"
	"github.com/rankforge/api/internal/repair"
)

var stagePercent = map[model.Stage]int{
	model.StageResearch: 10,
	model.StageOutline:  20,
	model.StageDraft:    45,
	model.StageTone:     60,
	model.StageSEO:      75,
	model.StageMetadata: 85,
	model.StageImage:    95,
}

// ImageGenerator renders and stores article images.
type ImageGenerator interface {
	GenerateFeaturedImage(ctx context.Context, prompt, slug, siteID string) (string, error)
	GenerateInlineImage(ctx context.Context, prompt, slug, siteID string, position int) (string, error)
}

// CitationVerifier confirms that a cited URL resolves and returns its title.
type CitationVerifier interface {
	Verify(ctx context.Context, url string) (string, error)
}

// Orchestrator runs the article stages in order.
type Orchestrator struct {
	gen      llm.Generator
	engine   *ContinuationEngine
	prompts  *Prompts
	repair   *repair.Pipeline
	images   ImageGenerator
	verifier CitationVerifier
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithImages(g ImageGenerator) Option {
	return func(o *Orchestrator) { o.images = g }
}

func WithVerifier(v CitationVerifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(gen llm.Generator, prompts *Prompts, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:     gen,
		prompts: prompts,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.engine = NewContinuationEngine(gen, prompts, o.log)
	o.repair = repair.New(o.log)
	return o
}

// ArticleRequest is everything one article job needs.
type ArticleRequest struct {
	JobID    string
	Input    model.ArticleJobInput
	Context  model.GenerationContext
	Provider llm.ProviderConfig
	Progress model.ProgressFunc
}

// run carries per-job state between stages.
type run struct {
	req      *ArticleRequest
	log      *logger.Logger
	system   string
	tier     model.LengthTier
	links    []model.ConsolidatedLink
	research model.ResearchResult
	outline  *model.Outline
	imageAlt string

	mu       sync.Mutex
	warnings []string
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
	r.log.Warn("generation warning", "warning", msg)
}

func (r *run) opts(temperature float64, maxTokens int) llm.Options {
	return r.req.Provider.With(llm.Options{Temperature: temperature, MaxTokens: maxTokens})
}

// GenerateArticle runs research, outline, draft, tone, seo, metadata and image
// in order and returns the finished article. It either returns a complete
// article or an error.
func (o *Orchestrator) GenerateArticle(ctx context.Context, req *ArticleRequest) (*model.GeneratedArticle, error) {
	ctx, span := observability.Tracer().Start(ctx, "generation.article",
		trace.WithAttributes(
			attribute.String("job.id", req.JobID),
			attribute.String("article.keyword", req.Input.Keyword),
			attribute.String("article.length", string(req.Input.ContentLength)),
		))
	defer span.End()

	r := &run{
		req:   req,
		log:   o.log.With("job_id", req.JobID),
		tier:  req.Input.ContentLength.Tier(),
		links: ConsolidateLinks(req.Context),
	}
	system, err := o.prompts.render("system", promptData{Context: req.Context})
	if err != nil {
		return nil, err
	}
	r.system = system

	article, err := o.runStages(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return article, nil
}

func (o *Orchestrator) runStages(ctx context.Context, r *run) (*model.GeneratedArticle, error) {
	keyword := r.req.Input.Keyword

	if err := o.stage(ctx, r, model.StageResearch, func(ctx context.Context) (string, error) {
		res, err := o.research(ctx, r.req.Provider, keyword, r.req.Context, r.system)
		if err != nil {
			return "", err
		}
		r.research = res
		if res.Degraded {
			r.warn("research unavailable, writing from general knowledge")
		}
		return fmt.Sprintf("Research complete: %d verified sources", len(res.Citations)), nil
	}); err != nil {
		return nil, err
	}

	if err := o.stage(ctx, r, model.StageOutline, func(ctx context.Context) (string, error) {
		outline, err := o.buildOutline(ctx, r)
		if err != nil {
			return "", err
		}
		r.outline = outline
		return fmt.Sprintf("Outline ready: %d sections", len(outline.Sections)), nil
	}); err != nil {
		return nil, err
	}

	var draft, tone model.Candidate
	if err := o.stage(ctx, r, model.StageDraft, func(ctx context.Context) (string, error) {
		c, err := o.draft(ctx, r)
		if err != nil {
			return "", err
		}
		draft = c
		return fmt.Sprintf("Draft written: %d words", c.Words), nil
	}); err != nil {
		return nil, err
	}

	candidates := []model.Candidate{draft}
	if err := o.stage(ctx, r, model.StageTone, func(ctx context.Context) (string, error) {
		c, ok, err := o.rewrite(ctx, r, model.StageTone, draft)
		if err != nil {
			return "", err
		}
		tone = draft
		if !ok {
			return "Tone rewrite rejected, keeping draft", nil
		}
		tone = c
		candidates = append(candidates, c)
		return fmt.Sprintf("Tone applied: %d words", c.Words), nil
	}); err != nil {
		return nil, err
	}

	if err := o.stage(ctx, r, model.StageSEO, func(ctx context.Context) (string, error) {
		c, ok, err := o.rewrite(ctx, r, model.StageSEO, tone)
		if err != nil {
			return "", err
		}
		if !ok {
			return "SEO rewrite rejected, keeping previous version", nil
		}
		candidates = append(candidates, c)
		return fmt.Sprintf("SEO optimised: %d words", c.Words), nil
	}); err != nil {
		return nil, err
	}

	// seo, tone, draft: on a full tie the latest stage wins
	ordered := make([]model.Candidate, 0, len(candidates))
	for i := len(candidates) - 1; i >= 0; i-- {
		ordered = append(ordered, candidates[i])
	}
	best, _ := Rank(ordered)
	r.log.Info("candidate selected",
		"stage", best.Stage, "words", best.Words, "missing_sections", best.MissingSections, "cutoff", best.Cutoff)

	body := o.finishBody(r, best.Text)

	article := &model.GeneratedArticle{
		Title:        r.outline.Title,
		FocusKeyword: keyword,
		Research:     r.research,
		WinningStage: best.Stage,
	}
	if err := o.stage(ctx, r, model.StageMetadata, func(ctx context.Context) (string, error) {
		if err := o.metadata(ctx, r, body, article); err != nil {
			return "", err
		}
		return "Metadata generated", nil
	}); err != nil {
		return nil, err
	}

	if err := o.stage(ctx, r, model.StageImage, func(ctx context.Context) (string, error) {
		if !r.req.Input.IncludeImages || o.images == nil {
			return "Images skipped", nil
		}
		body = o.addImages(ctx, r, body, article)
		return fmt.Sprintf("Images: %d inline", len(article.InlineImages)), nil
	}); err != nil {
		return nil, err
	}

	article.Body = body
	article.WordCount = WordCount(body)
	article.ReadingTime = ReadingTime(article.WordCount)
	article.Warnings = r.warnings
	article.GeneratedAt = o.now().UTC()
	return article, nil
}

// stage runs fn inside a span, logs it and reports progress when it succeeds.
func (o *Orchestrator) stage(ctx context.Context, r *run, st model.Stage, fn func(context.Context) (string, error)) error {
	ctx, span := observability.Tracer().Start(ctx, "generation."+string(st))
	defer span.End()

	start := time.Now()
	r.log.Info("stage started", "stage", st)
	msg, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("stage failed", "stage", st, "duration", time.Since(start).String(), "error", err)
		return fmt.Errorf("%s stage: %w", st, err)
	}
	r.log.Info("stage finished", "stage", st, "duration", time.Since(start).String())

	if r.req.Progress != nil {
		r.req.Progress(model.Progress{
			Step:       st,
			StepIndex:  stageIndex(st),
			TotalSteps: len(model.Stages),
			Message:    msg,
			Percentage: stagePercent[st],
		})
	}
	return nil
}

func stageIndex(st model.Stage) int {
	for i, s := range model.Stages {
		if s == st {
			return i + 1
		}
	}
	return 0
}

// finishBody pins the title heading and runs the repair pipeline.
func (o *Orchestrator) finishBody(r *run, text string) string {
	text = ensureTitle(text, r.outline.Title)
	return o.repair.Run(text, &repair.Context{
		BrandName: r.req.Context.BrandName,
		BrandURL:  r.req.Context.BrandURL,
		Links:     r.links,
		Citations: r.research.Citations,
		Now:       o.now(),
	})
}

// ensureTitle makes the first heading of text the H1 title.
func ensureTitle(text, title string) string {
	lines := repair.Parse(text)
	for i, l := range lines {
		if l.Kind == repair.Blank {
			continue
		}
		if l.Kind == repair.Heading && l.Level == 1 {
			lines[i].Text = "# " + title
			return repair.Render(lines)
		}
		break
	}
	return "# " + title + "\n\n" + text
}
