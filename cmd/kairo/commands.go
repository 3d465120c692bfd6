package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kairo-hq/kairo"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server with scheduled retuning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []kairo.Option{kairo.WithLogger(logger), kairo.WithVersion(version)}
			if port != 0 {
				opts = append(opts, kairo.WithPort(port))
			}
			app, err := kairo.New(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides KAIRO_PORT)")
	return cmd
}

func newRetuneCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "retune",
		Short: "Recompute the tuning config from the audit trail once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			tuning, err := app.Retune(cmd.Context())
			if err != nil {
				return fmt.Errorf("retune: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), tuning)
		},
	}
}

func newRecentCmd(logger *slog.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the most recent audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			app, err := openApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list recent: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to print")
	return cmd
}

func newTuningCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "tuning",
		Short: "Print the current tuning config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			tuning, err := app.CurrentTuning(cmd.Context())
			if err != nil {
				return fmt.Errorf("read tuning: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), tuning)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// openApp builds an App for one-shot commands. Reasoning is disabled since
// none of them call the provider.
func openApp(cmd *cobra.Command, logger *slog.Logger) (*kairo.App, error) {
	return kairo.New(cmd.Context(),
		kairo.WithLogger(logger),
		kairo.WithVersion(version),
		kairo.WithCompleter(offlineCompleter{}),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// offlineCompleter stands in for a provider in commands that never reason,
// so they skip provider auto-detection.
type offlineCompleter struct{}

func (offlineCompleter) Complete(context.Context, kairo.CompletionRequest) (string, error) {
	return "", fmt.Errorf("reasoning is not available in this command")
}

func (offlineCompleter) Name() string { return "offline" }
