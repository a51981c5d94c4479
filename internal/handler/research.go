package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rankforge/api/internal/llm"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/store"
	"github.com/rankforge/api/pkg/response"
)

const researchTimeout = 30 * time.Second

// Researcher runs the research stage outside of a job.
type Researcher interface {
	Research(ctx context.Context, keyword string, gctx model.GenerationContext, provider llm.ProviderConfig) (model.ResearchResult, error)
}

// ContextSource loads the brand context of a website.
type ContextSource interface {
	GenerationContext(ctx context.Context, websiteID string) (model.GenerationContext, error)
}

type ResearchPreviewRequest struct {
	WebsiteID string `json:"websiteId" validate:"required"`
	Keyword   string `json:"keyword" validate:"required,min=2,max=200"`
}

type ResearchHandler struct {
	researcher Researcher
	contexts   ContextSource
	provider   llm.ProviderConfig
	validator  *validator.Validate
	timeout    time.Duration
}

func NewResearchHandler(r Researcher, contexts ContextSource, provider llm.ProviderConfig, v *validator.Validate) *ResearchHandler {
	return &ResearchHandler{
		researcher: r,
		contexts:   contexts,
		provider:   provider,
		validator:  v,
		timeout:    researchTimeout,
	}
}

// Preview handles POST /api/research/preview
func (h *ResearchHandler) Preview(c *fiber.Ctx) error {
	var req ResearchPreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	gctx, err := h.contexts.GenerationContext(ctx, req.WebsiteID)
	if err != nil {
		if errors.Is(err, store.ErrWebsiteNotFound) {
			return response.NotFound(c, "Website not found")
		}
		return response.ServiceError(c, err.Error())
	}

	result, err := h.researcher.Research(ctx, req.Keyword, gctx, h.provider)
	if err != nil {
		return response.AIError(c, err.Error())
	}

	return response.OK(c, result)
}
