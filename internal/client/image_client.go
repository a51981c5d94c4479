package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rankforge/api/internal/config"
)

// ImageClient generates images through an OpenAI-compatible images API and
// stores them in object storage.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	size       string
	store      ObjectStore
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func NewImageClient(provider *config.ProviderConfig, images *config.ImagesConfig, store ObjectStore) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(provider.BaseURL, "/"),
		apiKey:     provider.APIKey,
		model:      images.Model,
		size:       images.Size,
		store:      store,
	}
}

// IsConfigured returns true if the client can both generate and store images
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != "" && c.store != nil
}

// GenerateFeaturedImage renders the article's header image and returns its public URL.
func (c *ImageClient) GenerateFeaturedImage(ctx context.Context, prompt, slug, siteID string) (string, error) {
	return c.generate(ctx, prompt, fmt.Sprintf("articles/%s/%s/featured-%s.png", siteID, slug, uuid.NewString()[:8]))
}

// GenerateInlineImage renders the image placed after a body section.
func (c *ImageClient) GenerateInlineImage(ctx context.Context, prompt, slug, siteID string, position int) (string, error) {
	return c.generate(ctx, prompt, fmt.Sprintf("articles/%s/%s/inline-%d-%s.png", siteID, slug, position, uuid.NewString()[:8]))
}

// Remove deletes a previously stored image by its public URL.
func (c *ImageClient) Remove(ctx context.Context, url string) error {
	prefix := c.store.PublicURL("")
	if !strings.HasPrefix(url, prefix) {
		return fmt.Errorf("image %s is not in this store", url)
	}
	return c.store.Delete(ctx, strings.TrimPrefix(url, prefix))
}

func (c *ImageClient) generate(ctx context.Context, prompt, key string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("image generation not configured")
	}

	bodyBytes, err := json.Marshal(imageRequest{Model: c.model, Prompt: prompt, Size: c.size, N: 1})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("images API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var imgResp imageResponse
	if err := json.Unmarshal(respBody, &imgResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(imgResp.Data) == 0 {
		return "", fmt.Errorf("no image in response")
	}

	var data []byte
	switch {
	case imgResp.Data[0].B64JSON != "":
		data, err = base64.StdEncoding.DecodeString(imgResp.Data[0].B64JSON)
		if err != nil {
			return "", fmt.Errorf("failed to decode image: %w", err)
		}
	case imgResp.Data[0].URL != "":
		data, err = c.download(ctx, imgResp.Data[0].URL)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("empty image payload")
	}

	return c.store.Put(ctx, key, bytes.NewReader(data), "image/png")
}

func (c *ImageClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download failed (status %d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
