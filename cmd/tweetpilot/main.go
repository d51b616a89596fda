// Command tweetpilot runs the AI Twitter agent backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/config"
	"github.com/tweetpilot/tweetpilot/pkg/store"
)

type globalFlags struct {
	config string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	gf := new(globalFlags)
	root := &cobra.Command{
		Use:          "tweetpilot",
		Short:        "Keyword monitoring, reply suggestions and scheduled posting for X.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&gf.config, "config", "c", "", "config file (default ./config.yaml if present)")

	root.AddCommand(newServeCmd(gf), newMigrateCmd(gf), newTokenCmd(gf))
	return root
}

// loadConfig loads configuration and installs the JSON logger at the configured level.
func loadConfig(ctx context.Context, gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(ctx, gf.config)
	if err != nil {
		return nil, err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func newMigrateCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations.",
	}
	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context(), gf)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			m, err := store.NewMigrator(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					slog.Warn("Failed to close migrator", "error", err)
				}
			}()
			if down {
				return m.Down()
			}
			return m.Up()
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations.", Args: cobra.NoArgs, RunE: run(false)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration.", Args: cobra.NoArgs, RunE: run(true)},
	)
	return cmd
}

func newTokenCmd(gf *globalFlags) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token --sub USER [--ttl 24h]",
		Short: "Mint a session token for local development.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context(), gf)
			if err != nil {
				return err
			}
			tok, err := auth.IssueToken(cfg.Auth.JWTSecret, subject, cfg.Auth.Issuer, cfg.Auth.Audience, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "user id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := cmd.MarkFlagRequired("sub"); err != nil {
		panic(err)
	}
	return cmd
}
