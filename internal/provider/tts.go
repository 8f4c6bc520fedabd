package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"cqbridge/internal/domain"
)

// TTSConfig configures the text-to-speech provider.
type TTSConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g., "tts-1" (OpenAI)
	Voice    string // e.g., "alloy" (OpenAI) or a voice ID (ElevenLabs)
	Timeout  time.Duration
	Logger   *slog.Logger
}

// TTSProvider handles text-to-speech synthesis.
type TTSProvider struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	client   *http.Client
	logger   *slog.Logger
}

func NewTTSProvider(cfg TTSConfig) *TTSProvider {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TTSProvider{
		provider: cfg.Provider,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		client:   SharedHTTPClient(cfg.Timeout),
		logger:   cfg.Logger,
	}
}

// Audio converts text to speech audio (MP3 format). The caller closes the stream.
func (t *TTSProvider) Audio(ctx context.Context, text string) (io.ReadCloser, error) {
	switch t.provider {
	case "openai":
		return t.post(ctx, t.apiBase+"/audio/speech", map[string]string{
			"model": t.model,
			"input": text,
			"voice": t.voice,
		}, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+t.apiKey)
		})
	case "elevenlabs":
		return t.post(ctx, "https://api.elevenlabs.io/v1/text-to-speech/"+t.voice, map[string]string{
			"text":     text,
			"model_id": "eleven_monolingual_v1",
		}, func(req *http.Request) {
			req.Header.Set("xi-api-key", t.apiKey)
			req.Header.Set("Accept", "audio/mpeg")
		})
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", t.provider)
	}
}

func (t *TTSProvider) post(ctx context.Context, url string, payload any, auth func(*http.Request)) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s TTS request: %w", t.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s TTS error (status %d): %s", t.provider, resp.StatusCode, string(respBody))
	}
	return resp.Body, nil
}

// VoiceService stores synthesized audio under OutputDir, which the event
// server exposes at PublicBase.
type VoiceService struct {
	tts        *TTSProvider
	outputDir  string
	publicBase string
	logger     *slog.Logger
}

type VoiceServiceConfig struct {
	TTS        *TTSProvider
	OutputDir  string
	PublicBase string
	Logger     *slog.Logger
}

var _ domain.VoiceSynthesizer = (*VoiceService)(nil)

func NewVoiceService(cfg VoiceServiceConfig) *VoiceService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &VoiceService{
		tts:        cfg.TTS,
		outputDir:  cfg.OutputDir,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		logger:     cfg.Logger,
	}
}

// Synthesize writes the audio for text to a new file and returns its public URL.
// Blank text yields "" and no file.
func (v *VoiceService) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	audio, err := v.tts.Audio(ctx, text)
	if err != nil {
		return "", err
	}
	defer audio.Close()

	if err := os.MkdirAll(v.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create voice dir: %w", err)
	}
	name := uuid.NewString() + ".mp3"
	path := filepath.Join(v.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create voice file: %w", err)
	}
	if _, err := io.Copy(f, audio); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write voice file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write voice file: %w", err)
	}

	v.logger.Debug("voice synthesized", "file", name, "chars", len([]rune(text)))
	return v.publicBase + "/" + name, nil
}
