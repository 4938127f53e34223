package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/cinebot/internal/ratelimit"
)

// Provider names accepted in llm.default_provider and llm.fallback_chain.
const (
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
)

// Config is the main configuration structure for cinebot.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	TMDB          TMDBConfig          `yaml:"tmdb"`
	Agent         AgentConfig         `yaml:"agent"`
	Session       SessionConfig       `yaml:"session"`
	RateLimits    RateLimitConfig     `yaml:"rate_limits"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds one /chat request including queueing for a worker.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Workers is the number of conversation turns processed concurrently.
	Workers int `yaml:"workers"`

	// MaxMessageLength caps /chat message length in characters.
	MaxMessageLength int `yaml:"max_message_length"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig selects and configures model providers.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists providers tried in order when the default fails.
	FallbackChain []string `yaml:"fallback_chain"`

	Failover FailoverConfig `yaml:"failover"`
}

// LLMProviderConfig configures one provider.
type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	BaseURL      string        `yaml:"base_url"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// FailoverConfig configures the provider circuit breaker.
type FailoverConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// TMDBConfig configures The Movie Database client.
type TMDBConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AgentConfig configures the conversation loop.
type AgentConfig struct {
	// MaxIterations bounds model calls per turn.
	MaxIterations int      `yaml:"max_iterations"`
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`

	ModelTimeout time.Duration `yaml:"model_timeout"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`

	// SystemPrompt replaces the built-in movie assistant prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

// SessionConfig configures the in-memory session store.
type SessionConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// IdleTimeout expires sessions without activity. Zero keeps them forever.
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// RateLimitConfig configures per-client, per-route rate limits.
type RateLimitConfig struct {
	Enabled *bool                       `yaml:"enabled"`
	Routes  map[string]ratelimit.Policy `yaml:"routes"`
}

// IsEnabled reports whether rate limiting is on (default true).
func (r RateLimitConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Route names used as rate_limits.routes keys.
const (
	RouteHealth          = "health"
	RouteChat            = "chat"
	RouteSessionsList    = "sessions_list"
	RouteSessionMessages = "session_messages"
	RouteSessionDelete   = "session_delete"
	RouteSessionsClear   = "sessions_clear"
	RouteSessionReset    = "session_reset"
	RouteSearch          = "search"
	RouteMovieLists      = "movie_lists"
	RouteMovieDetails    = "movie_details"
	RouteWatchProviders  = "watch_providers"
	RouteRecommendations = "recommendations"
	RouteTrending        = "trending"
	RouteDiscover        = "discover"
	RouteConfig          = "config"
	RouteRateLimits      = "rate_limits"
	RouteCapabilities    = "capabilities"
)

// DefaultRoutePolicies returns the per-minute allowance of every route.
func DefaultRoutePolicies() map[string]ratelimit.Policy {
	return map[string]ratelimit.Policy{
		RouteHealth:          ratelimit.PerMinute(100),
		RouteChat:            ratelimit.PerMinute(10),
		RouteSessionsList:    ratelimit.PerMinute(20),
		RouteSessionMessages: ratelimit.PerMinute(30),
		RouteSessionDelete:   ratelimit.PerMinute(10),
		RouteSessionsClear:   ratelimit.PerMinute(5),
		RouteSessionReset:    ratelimit.PerMinute(15),
		RouteSearch:          ratelimit.PerMinute(30),
		RouteMovieLists:      ratelimit.PerMinute(60),
		RouteMovieDetails:    ratelimit.PerMinute(50),
		RouteWatchProviders:  ratelimit.PerMinute(40),
		RouteRecommendations: ratelimit.PerMinute(30),
		RouteTrending:        ratelimit.PerMinute(50),
		RouteDiscover:        ratelimit.PerMinute(40),
		RouteConfig:          ratelimit.PerMinute(10),
		RouteRateLimits:      ratelimit.PerMinute(10),
		RouteCapabilities:    ratelimit.PerMinute(10),
	}
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether /metrics is served (default true).
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "development"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 3 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 4
	}
	if cfg.Server.MaxMessageLength == 0 {
		cfg.Server.MaxMessageLength = 1000
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = ProviderGroq
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if cfg.LLM.Failover.Threshold == 0 {
		cfg.LLM.Failover.Threshold = 3
	}
	if cfg.LLM.Failover.Cooldown == 0 {
		cfg.LLM.Failover.Cooldown = 30 * time.Second
	}

	if cfg.TMDB.Timeout == 0 {
		cfg.TMDB.Timeout = 10 * time.Second
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 2048
	}
	if cfg.Agent.Temperature == nil {
		temperature := 0.1
		cfg.Agent.Temperature = &temperature
	}
	if cfg.Agent.ModelTimeout == 0 {
		cfg.Agent.ModelTimeout = 60 * time.Second
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 20 * time.Second
	}

	if cfg.Session.MaxMessages == 0 {
		cfg.Session.MaxMessages = 1000
	}
	if cfg.Session.LockTimeout == 0 {
		cfg.Session.LockTimeout = 30 * time.Second
	}
	if cfg.Session.SweepSchedule == "" {
		cfg.Session.SweepSchedule = "@every 5m"
	}

	defaults := DefaultRoutePolicies()
	if cfg.RateLimits.Routes == nil {
		cfg.RateLimits.Routes = defaults
	} else {
		for route, policy := range defaults {
			if _, ok := cfg.RateLimits.Routes[route]; !ok {
				cfg.RateLimits.Routes[route] = policy
			}
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks cfg for missing credentials and out-of-range values.
func (cfg *Config) Validate() error {
	var issues []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.Server.Workers < 1 {
		issues = append(issues, "server.workers must be at least 1")
	}
	if cfg.Server.MaxMessageLength < 1 {
		issues = append(issues, "server.max_message_length must be at least 1")
	}

	if strings.TrimSpace(cfg.TMDB.APIKey) == "" {
		issues = append(issues, "tmdb.api_key is required (or set TMDB_API_KEY)")
	}

	providers := append([]string{cfg.LLM.DefaultProvider}, cfg.LLM.FallbackChain...)
	for i, name := range providers {
		field := "llm.default_provider"
		if i > 0 {
			field = fmt.Sprintf("llm.fallback_chain[%d]", i-1)
		}
		if name != ProviderGroq && name != ProviderAnthropic {
			issues = append(issues, fmt.Sprintf("%s %q is not supported (use %s or %s)", field, name, ProviderGroq, ProviderAnthropic))
			continue
		}
		if strings.TrimSpace(cfg.LLM.Providers[name].APIKey) == "" {
			issues = append(issues, fmt.Sprintf("llm.providers.%s.api_key is required (or set %s_API_KEY)", name, strings.ToUpper(name)))
		}
	}

	if cfg.Agent.MaxIterations < 1 {
		issues = append(issues, "agent.max_iterations must be at least 1")
	}
	if cfg.Agent.Temperature != nil && (*cfg.Agent.Temperature < 0 || *cfg.Agent.Temperature > 2) {
		issues = append(issues, "agent.temperature must be between 0 and 2")
	}
	if cfg.Session.IdleTimeout < 0 {
		issues = append(issues, "session.idle_timeout must not be negative")
	}
	for route, policy := range cfg.RateLimits.Routes {
		if _, known := DefaultRoutePolicies()[route]; !known {
			issues = append(issues, fmt.Sprintf("rate_limits.routes.%s is not a known route", route))
		}
		if policy.PerMinute < 0 || policy.Burst < 0 {
			issues = append(issues, fmt.Sprintf("rate_limits.routes.%s must not be negative", route))
		}
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}
	if cfg.Observability.Tracing.Enabled && strings.TrimSpace(cfg.Observability.Tracing.Endpoint) == "" {
		issues = append(issues, "observability.tracing.endpoint is required when tracing is enabled")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
