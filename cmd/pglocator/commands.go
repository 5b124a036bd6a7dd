package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	app "github.com/pglocator/pglocator/internal/app"
	"github.com/pglocator/pglocator/internal/app/runtime"
	"github.com/pglocator/pglocator/internal/app/services/demo"
	"github.com/pglocator/pglocator/internal/config"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/internal/platform/migrations"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pglocator",
		Short:         "PG Locator marketplace API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newVersionCmd())
	return root
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New("pglocator", cfg.Logging.Level, cfg.Logging.Format), nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := runtime.NewApplication(ctx, cfg, log)
			if err != nil {
				return err
			}
			return application.Run(ctx)
		},
	}
}

func databaseURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("load .env: %w", err)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", errors.New("DATABASE_URL is not set")
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL(dsn)
			if err != nil {
				return err
			}
			if err := migrations.Up(url); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return errors.New("--steps must be positive")
			}
			url, err := databaseURL(dsn)
			if err != nil {
				return err
			}
			if err := migrations.Down(url, steps); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL(dsn)
			if err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(cmd *cobra.Command, url string) error {
	v, dirty, err := migrations.Version(url)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, state)
	return nil
}

func newSeedCmd() *cobra.Command {
	var (
		fixturesPath string
		usersOnly    bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the demo accounts and sample listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			var fixtures *demo.Fixtures
			if fixturesPath != "" {
				data, err := os.ReadFile(filepath.Clean(fixturesPath))
				if err != nil {
					return fmt.Errorf("read fixtures: %w", err)
				}
				f, err := demo.ParseFixtures(data)
				if err != nil {
					return err
				}
				fixtures = &f
			}
			return seed(cmd.Context(), cmd, cfg, log, fixtures, usersOnly)
		},
	}
	cmd.Flags().StringVar(&fixturesPath, "fixtures", "", "YAML fixtures file (defaults to the built-in set)")
	cmd.Flags().BoolVar(&usersOnly, "users-only", false, "skip the sample listings")
	return cmd
}

func seed(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logging.Logger, fixtures *demo.Fixtures, usersOnly bool) error {
	backends, err := runtime.OpenBackends(ctx, cfg, log.Named("storage"))
	if err != nil {
		return err
	}
	defer backends.Close()

	application, err := app.New(backends.Identity, backends.Stores, app.Options{
		AdminInviteCode: cfg.Auth.AdminInviteCode,
		Fixtures:        fixtures,
	}, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range application.Demo.InitUsers(ctx) {
		if r.Error != "" {
			failed++
			fmt.Fprintf(out, "%-28s %-8s %s\n", r.Email, r.Status, r.Error)
			continue
		}
		fmt.Fprintf(out, "%-28s %-8s %s\n", r.Email, r.Status, r.UserID)
	}
	if usersOnly {
		return seedResult(failed)
	}
	n, err := application.Demo.InitData(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "seeded %d listings\n", n)
	return seedResult(failed)
}

func seedResult(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%d demo user(s) failed", failed)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), runtime.Version)
		},
	}
}
