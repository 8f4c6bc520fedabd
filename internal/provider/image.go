package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"cqbridge/internal/domain"
)

// ImageClient generates images through an OpenAI-compatible images/generations endpoint.
type ImageClient struct {
	api   apiClient
	model string
	size  string
}

type ImageConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

var _ domain.ImageGenerator = (*ImageClient)(nil)

func NewImageClient(cfg ImageConfig) *ImageClient {
	if cfg.Model == "" {
		cfg.Model = "dall-e-2"
	}
	return &ImageClient{
		api:   newAPIClient(cfg.APIBase, cfg.APIKey, cfg.Timeout, cfg.Logger),
		model: cfg.Model,
		size:  "1024x1024",
	}
}

// GenerateImage returns the URL of the first generated image, or "" when the
// API produced none.
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	data, err := c.api.postJSON(ctx, "images/generations", map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"size":   c.size,
		"n":      1,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	return gjson.GetBytes(data, "data.0.url").String(), nil
}

// VisionClient describes images with a multimodal chat model.
type VisionClient struct {
	chat   *OpenAI
	prompt string
}

var _ domain.ImageRecognizer = (*VisionClient)(nil)

func NewVisionClient(cfg OpenAIConfig) *VisionClient {
	if cfg.Name == "" {
		cfg.Name = "vision"
	}
	return &VisionClient{chat: NewOpenAI(cfg), prompt: "识别图片并用中文回复"}
}

// maxImageBytes caps downloads inlined into a vision request.
const maxImageBytes = 10 << 20

// RecognizeImage downloads imageURL and sends it inline as a base64 data URL,
// since gateway image links are usually not reachable by the model provider.
func (v *VisionClient) RecognizeImage(ctx context.Context, imageURL string) (string, error) {
	dataURL, err := v.inline(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("image recognition: %w", err)
	}
	msgs := []oaiMessage{{
		Role: "user",
		Content: []oaiPart{
			{Type: "text", Text: v.prompt},
			{Type: "image_url", ImageURL: &oaiImageURL{URL: dataURL}},
		},
	}}
	text, err := v.chat.complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("image recognition: %w", err)
	}
	return text, nil
}

func (v *VisionClient) inline(ctx context.Context, imageURL string) (string, error) {
	if strings.HasPrefix(imageURL, "data:") {
		return imageURL, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	resp, err := v.chat.api.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("fetch image: larger than %d bytes", maxImageBytes)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
}
