package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxConcurrentEvents_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.General.MaxConcurrentEvents = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentEvents=0")
	}

	cfg.General.MaxConcurrentEvents = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentEvents=1 should be valid: %v", err)
	}

	cfg.General.MaxConcurrentEvents = 100
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentEvents=100 should be valid: %v", err)
	}

	cfg.General.MaxConcurrentEvents = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentEvents=101")
	}
}

func TestValidate_ReplyProbability(t *testing.T) {
	for _, p := range []float64{-0.1, 1.5} {
		cfg := Defaults()
		cfg.Bot.ReplyProbability = p
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for replyProbability=%v", p)
		}
	}
	for _, p := range []float64{0, 0.5, 1} {
		cfg := Defaults()
		cfg.Bot.ReplyProbability = p
		if err := Validate(cfg); err != nil {
			t.Fatalf("replyProbability=%v should be valid: %v", p, err)
		}
	}
}

func TestValidate_AdminNeedsTitles(t *testing.T) {
	cfg := Defaults()
	cfg.Bot.AdminID = 10001
	cfg.Bot.AdminTitles = nil
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for admin without titles")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.ListenPort = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Gateway.ListenPort = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_EnabledProviderNeedsBase(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.Failover = []ProviderConfig{{Enabled: true, Name: "backup"}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for failover provider without apiBase")
	}
	if !strings.Contains(err.Error(), "failover[0]") {
		t.Fatalf("error should name the provider, got: %v", err)
	}
}

func TestValidate_MusicPlaceholder(t *testing.T) {
	cfg := Defaults()
	cfg.Music.SearchURL = "https://music.example.com/search"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for searchUrl without {query}")
	}
	cfg.Music.SearchURL = "https://music.example.com/search?q={query}"
	if err := Validate(cfg); err != nil {
		t.Fatalf("searchUrl with placeholder should be valid: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.APIBase = ""
	cfg.Memory.DBPath = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "gateway.apiBase") || !strings.Contains(msg, "memory.dbPath") {
		t.Fatalf("expected both errors reported, got: %v", msg)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Bot.SelfID = 123456
	original.Bot.Nicknames = []string{"小鸟", "bird"}

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Bot.SelfID != 123456 {
		t.Fatalf("expected selfId 123456, got %d", loaded.Bot.SelfID)
	}
	if len(loaded.Bot.Nicknames) != 2 || loaded.Bot.Nicknames[0] != "小鸟" {
		t.Fatalf("unexpected nicknames: %v", loaded.Bot.Nicknames)
	}
	if c, ok := loaded.Bot.Section("character"); !ok || c == "" {
		t.Fatal("character section lost in round trip")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"gateway": {
			"maxAttempts": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxAttempts=0")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgFile, []byte(`{"bot": {"selfId": 42}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bot.SelfID != 42 {
		t.Fatalf("expected selfId 42, got %d", cfg.Bot.SelfID)
	}
	if cfg.Gateway.MaxAttempts != 3 || cfg.Gateway.BackoffSeconds != 10 {
		t.Fatalf("delivery defaults lost: %+v", cfg.Gateway)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_CQBRIDGE_GATEWAY", "http://10.0.0.2:5700")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"gateway": {
			"apiBase": "${TEST_CQBRIDGE_GATEWAY}",
			"timeoutSeconds": 10,
			"maxAttempts": 3
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.APIBase != "http://10.0.0.2:5700" {
		t.Fatalf("expected apiBase substituted, got %q", cfg.Gateway.APIBase)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CQBRIDGE_CHAT_API_KEY", "sk-from-env")
	t.Setenv("CQBRIDGE_ADMIN_ID", "10001")
	t.Setenv("CQBRIDGE_BLOCK_IDS", "7,8")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"providers": {"chat": {"enabled": true, "apiBase": "https://api.example.com/v1", "apiKey": "sk-from-file"}}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Providers.Chat.APIKey != "sk-from-env" {
		t.Fatalf("expected env api key, got %q", cfg.Providers.Chat.APIKey)
	}
	if cfg.Providers.Chat.APIBase != "https://api.example.com/v1" {
		t.Fatalf("file value should survive, got %q", cfg.Providers.Chat.APIBase)
	}
	if cfg.Bot.AdminID != 10001 {
		t.Fatalf("expected adminId from env, got %d", cfg.Bot.AdminID)
	}
	if len(cfg.Bot.BlockIDs) != 2 || cfg.Bot.BlockIDs[1] != 8 {
		t.Fatalf("unexpected blockIds: %v", cfg.Bot.BlockIDs)
	}
}

func TestLoad_MergesDialoguesFile(t *testing.T) {
	dir := t.TempDir()
	dlgFile := filepath.Join(dir, "dialogues.yaml")
	yamlContent := `- user: "主人: 早上好"
  assistant: "早上好呀"
- user: ""
  assistant: "skipped"
`
	if err := os.WriteFile(dlgFile, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgFile := filepath.Join(dir, "config.json")
	content := `{"bot": {"dialoguesFile": "` + dlgFile + `", "dialogues": [{"user": "主人: 晚安", "assistant": "晚安"}]}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Bot.Dialogues) != 2 {
		t.Fatalf("expected 2 dialogues, got %d: %+v", len(cfg.Bot.Dialogues), cfg.Bot.Dialogues)
	}
	if cfg.Bot.Dialogues[1].Assistant != "早上好呀" {
		t.Fatalf("file dialogue should be appended, got %+v", cfg.Bot.Dialogues[1])
	}
}

func TestDialogues_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.yaml")
	in := []Dialogue{{User: "主人: 你好", Assistant: "你好"}}
	if err := SaveDialogues(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := LoadDialogues(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Fatalf("unexpected dialogues: %+v", out)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "gateway.apiBase")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "http://127.0.0.1:3000" {
		t.Fatalf("expected default apiBase, got %v", val)
	}
}

func TestGetByPath_NamedArrayElement(t *testing.T) {
	cfg := Defaults()
	cfg.Bot.SystemMessage = []PromptSection{
		{Name: "character", Content: "你是小鸟。"},
		{Name: "rules", Content: "少说话。"},
	}

	val, err := GetByPath(cfg, "bot.systemMessage.rules.content")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "少说话。" {
		t.Fatalf("expected rules content, got %v", val)
	}

	val, err = GetByPath(cfg, "bot.systemMessage.0.name")
	if err != nil {
		t.Fatalf("get by index: %v", err)
	}
	if val != "character" {
		t.Fatalf("expected 'character', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	if _, err := GetByPath(cfg, "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	if _, err := GetByPath(cfg, "bot.systemMessage.missing"); err == nil {
		t.Fatal("expected error for unknown section name")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "gateway.apiBase", "http://10.0.0.5:5700"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Gateway.APIBase != "http://10.0.0.5:5700" {
		t.Fatalf("expected updated apiBase, got %q", cfg.Gateway.APIBase)
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "metrics.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := SetByPath(cfg, "bot.adminId", "10001"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := SetByPath(cfg, "bot.replyProbability", "0.25"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if !cfg.Metrics.Enabled || cfg.Bot.AdminID != 10001 || cfg.Bot.ReplyProbability != 0.25 {
		t.Fatalf("unexpected values: metrics=%v admin=%d p=%v", cfg.Metrics.Enabled, cfg.Bot.AdminID, cfg.Bot.ReplyProbability)
	}
}

func TestSetByPath_NamedSection(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "bot.systemMessage.character.content", "你是一只猫。"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ := cfg.Bot.Section("character")
	if got != "你是一只猫。" {
		t.Fatalf("expected updated character, got %q", got)
	}
}

func TestSetByPath_TypeMismatch(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "gateway.maxAttempts", "lots"); err == nil {
		t.Fatal("expected error assigning a string to an int field")
	}
	if cfg.Gateway.MaxAttempts != 3 {
		t.Fatalf("failed set must not modify config, got %d", cfg.Gateway.MaxAttempts)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.Chat.APIKey = "sk-1234567890abcdefghijklmnop"
	cfg.Providers.Failover = []ProviderConfig{{Enabled: true, APIBase: "http://x", APIKey: "sk-failover-0123456789"}}
	cfg.Gateway.AccessToken = "onebot-token-12345678"
	cfg.Gateway.Secret = "hmac"

	sanitized := Sanitize(cfg)

	if sanitized.Providers.Chat.APIKey == cfg.Providers.Chat.APIKey {
		t.Fatal("API key should be masked")
	}
	if sanitized.Providers.Failover[0].APIKey == cfg.Providers.Failover[0].APIKey {
		t.Fatal("failover API key should be masked")
	}
	if sanitized.Gateway.AccessToken == cfg.Gateway.AccessToken {
		t.Fatal("access token should be masked")
	}
	if sanitized.Gateway.Secret != "***" {
		t.Fatalf("secret should be '***', got %q", sanitized.Gateway.Secret)
	}
	// Verify original is untouched
	if cfg.Providers.Chat.APIKey != "sk-1234567890abcdefghijklmnop" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.AccessToken = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Gateway.AccessToken != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Gateway.AccessToken)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	for _, expected := range []string{"general.logLevel", "gateway.apiBase", "bot.systemMessage.0.content", "intents.draw.0"} {
		if !set[expected] {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Bot.HistoryLimit != 10 {
		t.Fatalf("default history window should be 10, got %d", cfg.Bot.HistoryLimit)
	}
	if cfg.Draw.UseNormalizedPrompt {
		t.Fatal("draw should pass the original response by default")
	}
}

func TestDefaults_IntentPrefixesAreNotSingleRunes(t *testing.T) {
	cfg := Defaults()
	for name, prefixes := range map[string][]string{
		"draw":  cfg.Intents.Draw,
		"voice": cfg.Intents.Voice,
		"music": cfg.Intents.Music,
	} {
		for _, p := range prefixes {
			if len([]rune(p)) < 2 {
				t.Errorf("%s prefix %q would match ordinary chat", name, p)
			}
		}
	}
}
