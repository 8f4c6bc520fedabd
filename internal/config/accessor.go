package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "bot.adminId").
// Array elements are addressed by index or, for objects carrying a "name"
// field, by that name ("bot.systemMessage.character.content").
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var current any = tree
	for _, key := range strings.Split(path, ".") {
		next, err := child(current, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		current = next
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. String values are
// coerced to booleans or numbers when they parse as such.
func SetByPath(cfg *Config, path string, value any) error {
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	if path == "" || len(parts) == 0 {
		return fmt.Errorf("empty path")
	}

	var parent any = tree
	for _, key := range parts[:len(parts)-1] {
		next, err := child(parent, key)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		parent = next
	}

	last := parts[len(parts)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[last] = parseValue(value)
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(p) {
			return fmt.Errorf("%s: invalid array index %q", path, last)
		}
		p[idx] = parseValue(value)
	default:
		return fmt.Errorf("%s: cannot set a field on %T", path, parent)
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func child(node any, key string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		val, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", key)
		}
		return val, nil
	case []any:
		if idx, err := strconv.Atoi(key); err == nil {
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index out of range: %d", idx)
			}
			return v[idx], nil
		}
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok && obj["name"] == key {
				return obj, nil
			}
		}
		return nil, fmt.Errorf("no element named %q", key)
	default:
		return nil, fmt.Errorf("cannot traverse into %T at %s", node, key)
	}
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg // Return original on marshal error
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for _, pc := range []*ProviderConfig{&copy.Providers.Chat, &copy.Providers.Image, &copy.Providers.Vision, &copy.Providers.TTS} {
		pc.APIKey = maskString(pc.APIKey)
	}
	for i := range copy.Providers.Failover {
		copy.Providers.Failover[i].APIKey = maskString(copy.Providers.Failover[i].APIKey)
	}
	copy.Gateway.AccessToken = maskString(copy.Gateway.AccessToken)
	if copy.Gateway.Secret != "" {
		copy.Gateway.Secret = "***"
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable leaf paths, sorted.
func ListPaths(cfg *Config) []string {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	var paths []string
	flatten("", tree, &paths)
	sort.Strings(paths)
	return paths
}

func flatten(prefix string, node any, out *[]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			flatten(join(k), val, out)
		}
	case []any:
		for i, val := range v {
			flatten(join(strconv.Itoa(i)), val, out)
		}
	default:
		*out = append(*out, prefix)
	}
}
