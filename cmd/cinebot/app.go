package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/internal/agent/providers"
	"github.com/haasonsaas/cinebot/internal/config"
	"github.com/haasonsaas/cinebot/internal/observability"
	"github.com/haasonsaas/cinebot/internal/sessions"
	"github.com/haasonsaas/cinebot/internal/tools/tmdb"
)

// app holds the components shared by serve, chat and ask.
type app struct {
	config   *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	registry *agent.ToolRegistry
	loop     *agent.Loop
	store    *sessions.MemoryStore
	locker   *sessions.LocalLocker

	shutdownTracer func(context.Context) error
}

// loadConfig reads .env files and then the configuration file.
func loadConfig(configPath string, envFiles []string) (*config.Config, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newApp wires the conversation loop and its dependencies from cfg. Metrics
// register with reg; a nil reg disables them.
func newApp(cfg *config.Config, reg prometheus.Registerer, logOutput io.Writer) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    logOutput,
		AddSource: cfg.Logging.AddSource,
	})

	a := &app{
		config:         cfg,
		logger:         logger,
		shutdownTracer: func(context.Context) error { return nil },
	}
	if reg != nil && cfg.Observability.Metrics.IsEnabled() {
		a.metrics = observability.NewMetrics(reg)
	}

	traceCfg := observability.TraceConfig{
		ServiceName:    "cinebot",
		ServiceVersion: version,
		Environment:    cfg.Server.Environment,
	}
	if cfg.Observability.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Observability.Tracing.Endpoint
		traceCfg.SamplingRate = cfg.Observability.Tracing.SamplingRate
		traceCfg.Attributes = cfg.Observability.Tracing.Attributes
		traceCfg.EnableInsecure = cfg.Observability.Tracing.Insecure
	}
	a.tracer, a.shutdownTracer = observability.NewTracer(traceCfg)

	provider, model, err := buildProvider(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	client, err := tmdb.NewClient(tmdb.Config{
		APIKey:   cfg.TMDB.APIKey,
		BaseURL:  cfg.TMDB.BaseURL,
		Language: cfg.TMDB.Language,
		Timeout:  cfg.TMDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("tmdb client: %w", err)
	}
	a.registry, err = agent.NewToolRegistry(tmdb.Tools(client)...)
	if err != nil {
		return nil, fmt.Errorf("capability registry: %w", err)
	}

	systemPrompt := cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = tmdb.SystemPrompt(a.registry.List())
	}
	loopCfg := agent.LoopConfig{
		Model:         model,
		SystemPrompt:  systemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   -1,
		ModelTimeout:  cfg.Agent.ModelTimeout,
		ToolTimeout:   cfg.Agent.ToolTimeout,
	}
	if cfg.Agent.Temperature != nil {
		loopCfg.Temperature = *cfg.Agent.Temperature
	}
	a.loop, err = agent.NewLoop(provider, a.registry, loopCfg,
		agent.WithLogger(logger),
		agent.WithMetrics(a.metrics),
		agent.WithTracer(a.tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("conversation loop: %w", err)
	}

	a.store = sessions.NewMemoryStore(sessions.WithMaxMessages(cfg.Session.MaxMessages))
	a.locker = sessions.NewLocalLocker(cfg.Session.LockTimeout)
	return a, nil
}

// Close flushes pending spans.
func (a *app) Close(ctx context.Context) error {
	return a.shutdownTracer(ctx)
}

// buildProvider returns the configured default provider, wrapped in a
// failover chain when fallbacks are available, and the model for the loop.
func buildProvider(cfg config.LLMConfig, logger *slog.Logger) (agent.LLMProvider, string, error) {
	primary, err := newProvider(cfg.DefaultProvider, cfg.Providers[cfg.DefaultProvider])
	if err != nil {
		return nil, "", err
	}
	model := cfg.Providers[cfg.DefaultProvider].DefaultModel

	chain := cfg.FallbackChain
	if len(chain) == 0 && cfg.DefaultProvider != config.ProviderAnthropic &&
		cfg.Providers[config.ProviderAnthropic].APIKey != "" {
		chain = []string{config.ProviderAnthropic}
	}

	var fallbacks []providers.FailoverMember
	for _, name := range chain {
		if name == cfg.DefaultProvider {
			continue
		}
		provider, err := newProvider(name, cfg.Providers[name])
		if err != nil {
			return nil, "", err
		}
		fallbacks = append(fallbacks, providers.FailoverMember{
			Provider: provider,
			Model:    cfg.Providers[name].DefaultModel,
		})
	}
	if len(fallbacks) == 0 {
		return primary, model, nil
	}

	failover, err := providers.NewFailoverProvider(primary, providers.FailoverConfig{
		Threshold: cfg.Failover.Threshold,
		Cooldown:  cfg.Failover.Cooldown,
	}, logger, fallbacks...)
	if err != nil {
		return nil, "", fmt.Errorf("failover provider: %w", err)
	}
	return failover, model, nil
}

func newProvider(name string, cfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case config.ProviderGroq:
		return providers.NewGroqProvider(providers.GroqConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case config.ProviderAnthropic:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "":
		return nil, errors.New("no LLM provider configured")
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", name)
	}
}
