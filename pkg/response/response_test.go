package response

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		h      fiber.Handler
		status int
		code   string
	}{
		{"not completed", func(c *fiber.Ctx) error { return NotCompleted(c, "job is still processing") }, fiber.StatusConflict, CodeJobNotCompleted},
		{"not found", func(c *fiber.Ctx) error { return NotFound(c, "job not found") }, fiber.StatusNotFound, CodeNotFound},
		{"rate limited", RateLimited, fiber.StatusTooManyRequests, CodeRateLimited},
		{"ai error", func(c *fiber.Ctx) error { return AIError(c, "provider failed") }, fiber.StatusBadGateway, CodeAIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tt.h)
			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.code)
			}
		})
	}
}

func TestAccepted(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error { return Accepted(c, fiber.Map{"jobId": "job-1"}) })
	resp, err := app.Test(httptest.NewRequest("POST", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}
}
