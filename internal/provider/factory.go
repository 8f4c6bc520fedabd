package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cqbridge/internal/config"
	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

// Constructor creates a chat model from a config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.ChatModel

// Factory builds the model-backed collaborators from config.
type Factory struct {
	cfg          *config.Config
	metrics      *metrics.Metrics
	logger       *slog.Logger
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewFactory creates a factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a chat model constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.ChatModel {
		return NewOpenAI(openAIConfig(pc, logger))
	}
	// Ollama, DeepSeek and Gemini all expose OpenAI-compatible endpoints.
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.ChatModel {
		if pc.APIBase == "" {
			pc.APIBase = "http://localhost:11434/v1"
		}
		return NewOpenAI(openAIConfig(pc, logger))
	}
	f.constructors["deepseek"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.ChatModel {
		if pc.APIBase == "" {
			pc.APIBase = "https://api.deepseek.com/v1"
		}
		return NewOpenAI(openAIConfig(pc, logger))
	}
	f.constructors["gemini"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.ChatModel {
		if pc.APIBase == "" {
			pc.APIBase = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		return NewOpenAI(openAIConfig(pc, logger))
	}
}

func openAIConfig(pc config.ProviderConfig, logger *slog.Logger) OpenAIConfig {
	return OpenAIConfig{
		Name:        pc.Name,
		APIKey:      pc.APIKey,
		APIBase:     pc.APIBase,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     seconds(pc.TimeoutSeconds),
		Logger:      logger,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Model builds a single chat model for a config entry. Unknown names with an
// apiBase are treated as OpenAI-compatible.
func (f *Factory) Model(pc config.ProviderConfig) (domain.ChatModel, error) {
	name := pc.Name
	if name == "" {
		name = "openai"
	}
	f.mu.RLock()
	ctor, found := f.constructors[name]
	f.mu.RUnlock()

	switch {
	case found:
		return ctor(pc, f.logger), nil
	case pc.APIBase != "":
		return NewOpenAI(openAIConfig(pc, f.logger)), nil
	default:
		return nil, fmt.Errorf("provider %s: no constructor registered and no apiBase configured", name)
	}
}

// Chat returns the primary chat model chained with the enabled failover
// entries, instrumented and rate limited.
func (f *Factory) Chat() (domain.ChatModel, error) {
	pcs := f.cfg.Providers
	if !pcs.Chat.Enabled {
		return nil, fmt.Errorf("providers.chat is disabled")
	}
	primary, err := f.Model(pcs.Chat)
	if err != nil {
		return nil, err
	}

	var model domain.ChatModel = primary
	if len(pcs.Failover) > 0 {
		chain := []domain.ChatModel{primary}
		for i, pc := range pcs.Failover {
			if !pc.Enabled {
				continue
			}
			m, err := f.Model(pc)
			if err != nil {
				return nil, fmt.Errorf("failover[%d]: %w", i, err)
			}
			chain = append(chain, m)
		}
		if len(chain) > 1 {
			model = NewFailoverModel(chain, f.logger)
		}
	}

	model = instrumentedModel{ChatModel: model, metrics: f.metrics}
	limiter := NewRateLimiter(f.cfg.RateLimit.Burst, f.cfg.RateLimit.PerMinute)
	return NewRateLimitedModel(model, limiter), nil
}

// Image returns the image generator, or nil when disabled.
func (f *Factory) Image() domain.ImageGenerator {
	pc := f.cfg.Providers.Image
	if !pc.Enabled {
		return nil
	}
	return NewImageClient(ImageConfig{
		APIKey:  pc.APIKey,
		APIBase: pc.APIBase,
		Model:   pc.Model,
		Timeout: seconds(pc.TimeoutSeconds),
		Logger:  f.logger,
	})
}

// Vision returns the image recognizer, or nil when disabled.
func (f *Factory) Vision() domain.ImageRecognizer {
	pc := f.cfg.Providers.Vision
	if !pc.Enabled {
		return nil
	}
	return NewVisionClient(openAIConfig(pc, f.logger))
}

// Voice returns the voice synthesizer, or nil when TTS is disabled.
func (f *Factory) Voice() domain.VoiceSynthesizer {
	pc := f.cfg.Providers.TTS
	if !pc.Enabled {
		return nil
	}
	tts := NewTTSProvider(TTSConfig{
		Provider: pc.Name,
		APIBase:  pc.APIBase,
		APIKey:   pc.APIKey,
		Model:    pc.Model,
		Voice:    pc.Voice,
		Timeout:  seconds(pc.TimeoutSeconds),
		Logger:   f.logger,
	})
	return NewVoiceService(VoiceServiceConfig{
		TTS:        tts,
		OutputDir:  f.cfg.Voice.OutputDir,
		PublicBase: f.cfg.Voice.PublicBase,
		Logger:     f.logger,
	})
}

// Music returns the music finder, or nil when no search URL is configured.
func (f *Factory) Music() domain.MusicFinder {
	if f.cfg.Music.SearchURL == "" {
		return nil
	}
	return NewMusicClient(MusicConfig{
		SearchURL:  f.cfg.Music.SearchURL,
		ResultPath: f.cfg.Music.ResultPath,
		Logger:     f.logger,
	})
}
