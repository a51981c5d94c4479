package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/service"
	"github.com/rankforge/api/internal/store"
	"github.com/rankforge/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// CreateArticle handles POST /api/jobs/articles
func (h *JobHandler) CreateArticle(c *fiber.Ctx) error {
	var req model.ArticleJobInput
	return h.enqueue(c, model.JobKindArticle, &req)
}

// CreateKeywords handles POST /api/jobs/keywords
func (h *JobHandler) CreateKeywords(c *fiber.Ctx) error {
	var req model.KeywordJobInput
	return h.enqueue(c, model.JobKindKeywords, &req)
}

// CreateCluster handles POST /api/jobs/clusters
func (h *JobHandler) CreateCluster(c *fiber.Ctx) error {
	var req model.ClusterJobInput
	return h.enqueue(c, model.JobKindTopicCluster, &req)
}

func (h *JobHandler) enqueue(c *fiber.Ctx, kind model.JobKind, req any) error {
	if err := c.BodyParser(req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Enqueue(c.UserContext(), kind, req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/jobs/:jobId/result
func (h *JobHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetResult(c.UserContext(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotCompleted):
			return response.NotCompleted(c, "Job not completed yet")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job.StatusResponse())
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) any {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
