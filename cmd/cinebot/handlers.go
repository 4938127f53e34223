package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/cinebot/internal/config"
	"github.com/haasonsaas/cinebot/internal/gateway"
	"github.com/haasonsaas/cinebot/internal/sessions"
	"github.com/haasonsaas/cinebot/internal/tools/tmdb"
)

// limiterPruneInterval is how often idle rate-limit buckets are dropped.
const limiterPruneInterval = 10 * time.Minute

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, starts the session sweeper and serves the
// HTTP API until SIGINT or SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath, envFiles)
	if err != nil {
		return err
	}
	if debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(cfg, registry, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(a.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a.logger.Info("starting cinebot",
		"version", version,
		"commit", commit,
		"config", configPath,
		"environment", cfg.Server.Environment,
		"provider", cfg.LLM.DefaultProvider,
		"model", a.loop.Config().Model,
		"capabilities", a.registry.Len(),
	)

	sweeper, err := sessions.NewSweeper(a.store, a.locker, sessions.SweeperConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
		Schedule:    cfg.Session.SweepSchedule,
	}, a.logger)
	if err != nil {
		return err
	}
	sweeper.OnDelete(a.metrics.SetActiveSessions)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		sweeper.Stop(stopCtx)
	}()

	server, err := gateway.NewServer(cfg, gateway.Deps{
		Loop:     a.loop,
		Store:    a.store,
		Locker:   a.locker,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
		Gatherer: registry,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	go pruneLimiters(ctx, server, a.logger)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info("cinebot stopped")
	return nil
}

func pruneLimiters(ctx context.Context, server *gateway.Server, logger *slog.Logger) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := server.PruneLimiters(); removed > 0 {
				logger.Debug("pruned idle rate limit buckets", "removed", removed)
			}
		}
	}
}

// =============================================================================
// Terminal Command Handlers
// =============================================================================

// newTerminalApp builds an app for chat and ask. Logs below warn are
// suppressed unless the config asks for debug output.
func newTerminalApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath, envFiles)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Level != "debug" {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = "text"
	return newApp(cfg, nil, cmd.ErrOrStderr())
}

// converse runs one turn against the session's history and commits it.
func (a *app) converse(ctx context.Context, sessionID, text string) (string, error) {
	history, err := a.store.GetHistory(ctx, sessionID, 0)
	if err != nil {
		return "", err
	}
	result, err := a.loop.RunTurn(ctx, history, text)
	if err != nil {
		return "", err
	}
	if err := a.store.AppendMessages(ctx, sessionID, result.Appended); err != nil {
		return "", err
	}
	return result.Reply, nil
}

func runAsk(cmd *cobra.Command, configPath string, args []string) error {
	a, err := newTerminalApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, cancel := context.WithTimeout(cmd.Context(), a.config.Server.RequestTimeout)
	defer cancel()
	session, _, err := a.store.GetOrCreate(ctx, "")
	if err != nil {
		return err
	}
	reply, err := a.converse(ctx, session.ID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func runChat(cmd *cobra.Command, configPath string) error {
	a, err := newTerminalApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, _, err := a.store.GetOrCreate(ctx, "")
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()
	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintln(out, "cinebot - ask about movies. Type \"reset\" to start over, \"quit\" to exit.")
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "reset":
			if err := a.store.ResetHistory(ctx, session.ID); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation reset.")
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, a.config.Server.RequestTimeout)
		reply, err := a.converse(turnCtx, session.ID, line)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s\n\n", reply)
	}
	return scanner.Err()
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// Info Command Handlers
// =============================================================================

func runCapabilities(cmd *cobra.Command, showSchema bool) error {
	out := cmd.OutOrStdout()
	tools := tmdb.Tools(nil)
	if showSchema {
		for _, tool := range tools {
			var schema any
			if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
				return fmt.Errorf("%s schema: %w", tool.Name(), err)
			}
			pretty, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n  %s\n%s\n\n", tool.Name(), tool.Description(), pretty)
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\n", tool.Name(), firstLine(tool.Description()))
	}
	return w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}
