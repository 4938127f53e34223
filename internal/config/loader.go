package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables that are already set win, and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the configuration at path, applies environment overrides and
// defaults, and validates the result. An empty path configures from the
// environment alone.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.Expand(string(data), func(key string) string {
			value, _ := lookup(key)
			return value
		})
		raw, err := parseRawBytes([]byte(expanded), path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := decodeRawConfig(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// decodeRawConfig re-encodes raw as YAML so both file formats share the
// strict decoder that rejects unknown fields.
func decodeRawConfig(raw map[string]any, cfg *Config) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps the service's environment variables onto cfg.
// Lowercase aliases are accepted for keys commonly written that way in .env
// files.
func applyEnvOverrides(cfg *Config, lookup LookupFunc) error {
	get := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value), true
			}
		}
		return "", false
	}
	setProvider := func(name string, apply func(*LLMProviderConfig)) {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		provider := cfg.LLM.Providers[name]
		apply(&provider)
		cfg.LLM.Providers[name] = provider
	}

	if value, ok := get("GROQ_API_KEY", "groq_api_key"); ok {
		setProvider(ProviderGroq, func(p *LLMProviderConfig) { p.APIKey = value })
	}
	if value, ok := get("GROQ_MODEL"); ok {
		setProvider(ProviderGroq, func(p *LLMProviderConfig) { p.DefaultModel = value })
	}
	if value, ok := get("ANTHROPIC_API_KEY", "anthropic_api_key"); ok {
		setProvider(ProviderAnthropic, func(p *LLMProviderConfig) { p.APIKey = value })
	}
	if value, ok := get("ANTHROPIC_MODEL"); ok {
		setProvider(ProviderAnthropic, func(p *LLMProviderConfig) { p.DefaultModel = value })
	}
	if value, ok := get("TMDB_API_KEY", "tmdb_api_key"); ok {
		cfg.TMDB.APIKey = value
	}

	if value, ok := get("CINEBOT_HOST", "FASTAPI_HOST"); ok {
		cfg.Server.Host = value
	}
	if value, ok := get("CINEBOT_PORT", "FASTAPI_PORT", "PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", value, err)
		}
		cfg.Server.Port = port
	}
	if value, ok := get("CINEBOT_DEBUG", "FASTAPI_DEBUG"); ok {
		debug, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid debug flag %q: %w", value, err)
		}
		cfg.Server.Debug = debug
	}
	if value, ok := get("CINEBOT_ENV"); ok {
		cfg.Server.Environment = value
	}
	if value, ok := get("ALLOWED_ORIGINS"); ok {
		var origins []string
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	if value, ok := get("LOG_LEVEL", "FASTAPI_LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(value)
	}
	if value, ok := get("LOG_FORMAT"); ok {
		cfg.Logging.Format = strings.ToLower(value)
	}
	if value, ok := get("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.Observability.Tracing.Enabled = true
		cfg.Observability.Tracing.Endpoint = value
	}
	return nil
}
