// Package main provides the CLI entry point for cinebot, a movie assistant
// that answers questions by letting an LLM call TMDB capabilities.
//
// # Basic Usage
//
// Start the HTTP API:
//
//	cinebot serve --config cinebot.yaml
//
// Chat from the terminal:
//
//	cinebot chat
//	cinebot ask "What is trending this week?"
//
// # Environment Variables
//
// Configuration can be provided via environment variables or a .env file:
//
//   - CINEBOT_CONFIG: Path to configuration file
//   - GROQ_API_KEY: Groq API key (default provider)
//   - ANTHROPIC_API_KEY: Anthropic API key, used as a fallback when set
//   - TMDB_API_KEY: TMDB v3 API key or v4 read access token
//   - FASTAPI_HOST, FASTAPI_PORT: Listen address (CINEBOT_HOST, CINEBOT_PORT also work)
//   - ALLOWED_ORIGINS: Comma-separated CORS origins
//   - LOG_LEVEL: debug, info, warn or error
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags shared by every subcommand.
var (
	configPath string
	envFiles   []string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cinebot",
		Short: "cinebot - movie assistant backed by TMDB",
		Long: `cinebot answers movie questions with an LLM that can search TMDB,
look up details, discover titles by genre and find where to watch them.

Supported LLM providers: Groq (default), Anthropic (fallback)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CINEBOT_CONFIG"),
		"Path to YAML or JSON5 configuration file (or set CINEBOT_CONFIG)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"Dotenv files to load before reading configuration (default .env)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildAskCmd(),
		buildCapabilitiesCmd(),
		buildConfigSchemaCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	return strings.TrimSpace(configPath)
}
