package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"cqbridge/internal/domain"
)

// ErrEmptyResponse is returned when the API answers without any content.
var ErrEmptyResponse = errors.New("empty response")

// apiClient holds what every OpenAI-compatible endpoint needs.
type apiClient struct {
	apiKey  string
	apiBase string
	client  *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

func newAPIClient(apiBase, apiKey string, timeout time.Duration, logger *slog.Logger) apiClient {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return apiClient{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  SharedHTTPClient(timeout),
		retry:   defaultRetry,
		logger:  logger,
	}
}

// postJSON posts payload to <apiBase>/<path> and returns the raw body of a 200 response.
func (a apiClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := a.retry.do(ctx, a.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/"+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}
		return req, nil
	}, a.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// OpenAI implements domain.ChatModel for OpenAI-compatible chat/completions APIs.
type OpenAI struct {
	api         apiClient
	name        string
	model       string
	maxTokens   int
	temperature float64
}

type OpenAIConfig struct {
	Name        string
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

var _ domain.ChatModel = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.5
	}
	return &OpenAI{
		api:         newAPIClient(cfg.APIBase, cfg.APIKey, cfg.Timeout, cfg.Logger),
		name:        cfg.Name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (o *OpenAI) Name() string { return o.name + "/" + o.model }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.api.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	if o.api.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.api.apiKey)
	}
	resp, err := o.api.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.name, resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
	Stream      bool         `json:"stream"`
}

// oaiMessage content is a string for plain turns and a part list for vision turns.
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

// Chat returns the trimmed content of the first choice.
func (o *OpenAI) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	msgs := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, oaiMessage{Role: m.Role, Content: m.Content})
	}
	return o.complete(ctx, msgs)
}

func (o *OpenAI) complete(ctx context.Context, msgs []oaiMessage) (string, error) {
	data, err := o.api.postJSON(ctx, "chat/completions", oaiRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		TopP:        0.95,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", o.name, err)
	}

	content := gjson.GetBytes(data, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("%s: %w", o.name, ErrEmptyResponse)
	}
	return strings.TrimSpace(content.String()), nil
}
