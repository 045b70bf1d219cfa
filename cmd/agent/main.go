package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voice-checkout/internal/bridge"
	"voice-checkout/internal/config"
	"voice-checkout/internal/dialogue"
	"voice-checkout/internal/integrations/checkoutapi"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "voice-agent",
		Short:         "Drive a checkout conversation against the checkout server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("server-url", "", "Checkout server URL (overrides SERVER_URL)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(healthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [phone|chat]",
		Short: "Run one conversation; \"chat\" talks on this console",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			api, err := checkoutapi.NewClient(cfg.ServerURL, checkoutapi.WithTimeout(cfg.RequestTimeout))
			if err != nil {
				return err
			}
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			engine := dialogue.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), dialogue.WithMaxAttempts(maxAttempts))

			b, err := bridge.New(engine, api, bridge.WithLogger(log))
			if err != nil {
				return err
			}
			res, err := b.Run(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("conversation %s: %w", res.ConversationID, err)
			}
			out, err := json.MarshalIndent(res.Output, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().Int("max-attempts", 3, "How often a question is repeated before the conversation is aborted")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the checkout server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			api, err := checkoutapi.NewClient(cfg.ServerURL, checkoutapi.WithTimeout(cfg.RequestTimeout))
			if err != nil {
				return err
			}
			if err := api.Health(cmd.Context()); err != nil {
				return fmt.Errorf("server %s is not healthy: %w", cfg.ServerURL, err)
			}
			key, err := api.PublishableKey(cmd.Context())
			if err != nil {
				return fmt.Errorf("server %s: %w", cfg.ServerURL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server %s is healthy (publishable key %s)\n", cfg.ServerURL, key)
			return nil
		},
	}
}

// setup loads configuration and installs the text logger on stderr so the
// console dialogue keeps stdout.
func setup(cmd *cobra.Command) (config.Agent, *slog.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Agent{}, nil, err
	}
	cfg, err := config.LoadAgent(os.Getenv)
	if err != nil {
		return config.Agent{}, nil, err
	}
	if url, _ := cmd.Flags().GetString("server-url"); url != "" {
		cfg.ServerURL = url
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	return cfg, log, nil
}
