// Command manifestctl runs maintenance tasks against the intention store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"manifest/internal/app"
	"manifest/internal/config"
	"manifest/internal/logging"
	"manifest/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:           "manifestctl",
		Short:         "Maintenance commands for the intention matcher",
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	rootCmd.AddCommand(newMigrateCmd(withTimeout), newMatchCmd(withTimeout), newBackfillCmd(withTimeout))
	return rootCmd
}

type contextFunc func(cmd *cobra.Command) (context.Context, context.CancelFunc)

func newMigrateCmd(withTimeout contextFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema (PostgreSQL only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := withTimeout(cmd)
			defer cancel()

			repo, err := app.OpenPostgres(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newMatchCmd(withTimeout contextFunc) *cobra.Command {
	var req model.MatchRequest

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match one stored intention and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			return withApp(ctx, func(a *app.App) error {
				result, err := a.Matcher.Match(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringVar(&req.IntentionID, "id", "", "Intention id (required)")
	cmd.Flags().StringVar(&req.Title, "title", "", "Intention title (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Intention description")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newBackfillCmd(withTimeout contextFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Compute embeddings for intentions that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			return withApp(ctx, func(a *app.App) error {
				resp, err := a.Intentions.Backfill(ctx, limit)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, resp); err != nil {
					return err
				}
				if resp.Failed > 0 {
					return fmt.Errorf("%d intentions could not be embedded", resp.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum intentions to process (0 for the default)")
	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
