package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for cqbridge.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Bot       BotConfig       `json:"bot"`
	Gateway   GatewayConfig   `json:"gateway"`
	Providers ProvidersConfig `json:"providers"`
	Voice     VoiceConfig     `json:"voice"`
	Music     MusicConfig     `json:"music"`
	Intents   IntentsConfig   `json:"intents"`
	Draw      DrawConfig      `json:"draw"`
	Memory    MemoryConfig    `json:"memory"`
	Metrics   MetricsConfig   `json:"metrics"`
	RateLimit RateLimitConfig `json:"rateLimit"`
}

type GeneralConfig struct {
	LogLevel            string `json:"logLevel" env:"CQBRIDGE_LOG_LEVEL"`
	LogFile             string `json:"logFile,omitempty" env:"CQBRIDGE_LOG_FILE"`
	MaxConcurrentEvents int    `json:"maxConcurrentEvents"`
}

// BotConfig holds the persona and addressing rules.
type BotConfig struct {
	SelfID           int64           `json:"selfId" env:"CQBRIDGE_SELF_ID"`
	AdminID          int64           `json:"adminId" env:"CQBRIDGE_ADMIN_ID"`
	Nicknames        []string        `json:"nicknames"`
	BlockIDs         []int64         `json:"blockIds" env:"CQBRIDGE_BLOCK_IDS"`
	ReplyProbability float64         `json:"replyProbability"`
	AdminTitles      []string        `json:"adminTitles"`
	SystemMessage    []PromptSection `json:"systemMessage"`
	Dialogues        []Dialogue      `json:"dialogues,omitempty"`
	DialoguesFile    string          `json:"dialoguesFile,omitempty"`
	HistoryLimit     int             `json:"historyLimit"`
}

// PromptSection is one named fragment of the system prompt. Order is preserved.
type PromptSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Dialogue is a canned exchange answered without calling the model.
type Dialogue struct {
	User      string `json:"user" yaml:"user"`
	Assistant string `json:"assistant" yaml:"assistant"`
}

// Section returns the content of the named system-message fragment.
func (b BotConfig) Section(name string) (string, bool) {
	for _, s := range b.SystemMessage {
		if s.Name == name {
			return s.Content, true
		}
	}
	return "", false
}

// GatewayConfig describes the OneBot HTTP API and the inbound event sources.
type GatewayConfig struct {
	APIBase          string `json:"apiBase" env:"CQBRIDGE_GATEWAY_API_BASE"`
	AccessToken      string `json:"accessToken,omitempty" env:"CQBRIDGE_GATEWAY_ACCESS_TOKEN"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
	MaxAttempts      int    `json:"maxAttempts"`
	BackoffSeconds   int    `json:"backoffSeconds"`
	ListenHost       string `json:"listenHost"`
	ListenPort       int    `json:"listenPort" env:"CQBRIDGE_LISTEN_PORT"`
	EventPath        string `json:"eventPath"`
	Secret           string `json:"secret,omitempty" env:"CQBRIDGE_GATEWAY_SECRET"`
	WSURL            string `json:"wsUrl,omitempty" env:"CQBRIDGE_GATEWAY_WS_URL"`
	ReconnectSeconds int    `json:"reconnectSeconds"`
}

type ProvidersConfig struct {
	Chat     ProviderConfig   `json:"chat" envPrefix:"CQBRIDGE_CHAT_"`
	Failover []ProviderConfig `json:"failover,omitempty"`
	Image    ProviderConfig   `json:"image" envPrefix:"CQBRIDGE_IMAGE_"`
	Vision   ProviderConfig   `json:"vision" envPrefix:"CQBRIDGE_VISION_"`
	TTS      ProviderConfig   `json:"tts" envPrefix:"CQBRIDGE_TTS_"`
}

// ProviderConfig configures one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Enabled        bool    `json:"enabled"`
	Name           string  `json:"name,omitempty"`
	APIBase        string  `json:"apiBase,omitempty" env:"API_BASE"`
	APIKey         string  `json:"apiKey,omitempty" env:"API_KEY"`
	Model          string  `json:"model,omitempty" env:"MODEL"`
	Voice          string  `json:"voice,omitempty"`
	TimeoutSeconds int     `json:"timeoutSeconds,omitempty"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
}

// VoiceConfig controls where synthesized audio is stored and how the gateway fetches it.
type VoiceConfig struct {
	OutputDir      string `json:"outputDir"`
	PublicBase     string `json:"publicBase"`
	ServePath      string `json:"servePath"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// MusicConfig configures the song lookup API. SearchURL contains a {query} placeholder.
type MusicConfig struct {
	SearchURL  string `json:"searchUrl,omitempty"`
	ResultPath string `json:"resultPath,omitempty"`
}

// IntentsConfig lists the prefixes that turn a message into a special request.
type IntentsConfig struct {
	Draw  []string `json:"draw"`
	Voice []string `json:"voice"`
	Music []string `json:"music"`
}

type DrawConfig struct {
	UseNormalizedPrompt bool `json:"useNormalizedPrompt"`
}

type MemoryConfig struct {
	DBPath string `json:"dbPath" env:"CQBRIDGE_DB_PATH"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type RateLimitConfig struct {
	Burst     int     `json:"burst"`
	PerMinute float64 `json:"perMinute"`
}

// DefaultConfigDir returns the default config directory (~/.cqbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cqbridge"
	}
	return filepath.Join(home, ".cqbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Voice.OutputDir = ExpandPath(cfg.Voice.OutputDir)
	cfg.Bot.DialoguesFile = ExpandPath(cfg.Bot.DialoguesFile)

	if cfg.Bot.DialoguesFile != "" {
		extra, err := LoadDialogues(cfg.Bot.DialoguesFile)
		if err != nil {
			return nil, err
		}
		cfg.Bot.Dialogues = append(cfg.Bot.Dialogues, extra...)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides tagged fields from CQBRIDGE_* environment variables.
// Unset variables leave the file value untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("cannot apply environment overrides: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentEvents < 1 || cfg.General.MaxConcurrentEvents > 100 {
		errs = append(errs, "general.maxConcurrentEvents must be between 1 and 100")
	}

	if cfg.Bot.ReplyProbability < 0 || cfg.Bot.ReplyProbability > 1 {
		errs = append(errs, "bot.replyProbability must be between 0 and 1")
	}
	if cfg.Bot.HistoryLimit < 0 {
		errs = append(errs, "bot.historyLimit must be >= 0")
	}
	if cfg.Bot.AdminID != 0 && len(cfg.Bot.AdminTitles) == 0 {
		errs = append(errs, "bot.adminTitles must not be empty when bot.adminId is set")
	}
	for i, s := range cfg.Bot.SystemMessage {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("bot.systemMessage[%d]: name is required", i))
		}
	}

	if cfg.Gateway.APIBase == "" {
		errs = append(errs, "gateway.apiBase is required")
	}
	if cfg.Gateway.TimeoutSeconds < 1 {
		errs = append(errs, "gateway.timeoutSeconds must be >= 1")
	}
	if cfg.Gateway.MaxAttempts < 1 || cfg.Gateway.MaxAttempts > 10 {
		errs = append(errs, "gateway.maxAttempts must be between 1 and 10")
	}
	if cfg.Gateway.BackoffSeconds < 0 {
		errs = append(errs, "gateway.backoffSeconds must be >= 0")
	}
	if cfg.Gateway.ListenPort < 0 || cfg.Gateway.ListenPort > 65535 {
		errs = append(errs, "gateway.listenPort must be between 0 and 65535")
	}

	checkProvider := func(name string, pc ProviderConfig) {
		if pc.Enabled && pc.APIBase == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required when enabled", name))
		}
	}
	checkProvider("chat", cfg.Providers.Chat)
	checkProvider("image", cfg.Providers.Image)
	checkProvider("vision", cfg.Providers.Vision)
	checkProvider("tts", cfg.Providers.TTS)
	for i, pc := range cfg.Providers.Failover {
		checkProvider(fmt.Sprintf("failover[%d]", i), pc)
	}

	if cfg.Voice.TimeoutSeconds < 1 {
		errs = append(errs, "voice.timeoutSeconds must be >= 1")
	}
	if cfg.Music.SearchURL != "" && !strings.Contains(cfg.Music.SearchURL, "{query}") {
		errs = append(errs, "music.searchUrl must contain a {query} placeholder")
	}
	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
