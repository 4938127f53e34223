package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP API.
func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cinebot HTTP API",
		Long: `Start the cinebot HTTP API.

The server will:
1. Load .env files and the configuration file
2. Build the LLM provider chain and the TMDB capability registry
3. Start the idle session sweeper
4. Serve chat, session, movie and info endpoints plus Prometheus metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with configuration from the environment
  cinebot serve

  # Start with a config file
  cinebot serve --config /etc/cinebot/cinebot.yaml

  # Start with debug logging
  cinebot serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Terminal Commands
// =============================================================================

// buildChatCmd creates the interactive "chat" command.
func buildChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the movie assistant in the terminal",
		Long: `Start an interactive conversation. History is kept for the life of the
process. Type "reset" to start over, or "quit" to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, resolveConfigPath())
		},
	}
}

// buildAskCmd creates the one-shot "ask" command.
func buildAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Example: `  cinebot ask "Recommend a sci-fi movie like Inception"
  cinebot ask "Where can I stream The Matrix in the US?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, resolveConfigPath(), args)
		},
	}
}

// =============================================================================
// Info Commands
// =============================================================================

// buildCapabilitiesCmd lists the capabilities offered to the model.
func buildCapabilitiesCmd() *cobra.Command {
	var showSchema bool
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "List the capabilities the assistant can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapabilities(cmd, showSchema)
		},
	}
	cmd.Flags().BoolVar(&showSchema, "schema", false, "Print each parameter schema")
	return cmd
}

// buildConfigSchemaCmd prints the configuration JSON Schema.
func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the configuration JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}
