package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"repovault/internal/app"
	"repovault/internal/config"
	"repovault/internal/model"
	"repovault/internal/store"
	"repovault/internal/store/migrations"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). runID identifies the CLI command being run.
func newApp(ctx context.Context, runID string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, runID)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "repovault",
	Short: "Repository fleet backup service",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Server:    %s\n", cfg.Server.Addr)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Archive:   %s\n", cfg.Archive.Type)
		fmt.Printf("Discovery: org %q via %s\n", cfg.Discovery.Org, orDefault(cfg.Discovery.APIBase, "github"))
		return nil
	},
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.Up(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("Database is up to date")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.Status(db); err != nil {
			return err
		}
		fmt.Println("Database schema is current")
		return nil
	},
}

func openDatabase() (*sql.DB, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Type != "sqlite" {
		return nil, fmt.Errorf("migrate only applies to sqlite databases, not %q", cfg.Database.Type)
	}
	db, err := store.OpenConnection(filepath.Join(cfg.Database.DataDir, "repovault.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Refresh the repository fleet from upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, "discover")
		if err != nil {
			return err
		}
		defer a.Close()

		repos, err := a.Discover(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Discovered %d repositories\n", len(repos))
		for _, r := range repos {
			marker := ""
			if r.Archived {
				marker = " (archived)"
			}
			fmt.Printf("  %s%s\n", r.Name, marker)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage backups",
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover the fleet and back up every repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, "backup-run")
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.BackupRun(ctx)
		if summary != nil {
			printSummary(summary)
		}
		return err
	},
}

// archival command
var archivalCmd = &cobra.Command{
	Use:   "archival",
	Short: "Manage storage-class transitions",
}

var archivalRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply every storage-class transition that is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, "archival-run")
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.ArchivalRun(ctx)
		if summary != nil {
			printSummary(summary)
		}
		return err
	},
}

func printSummary(s *model.RunSummary) {
	fmt.Printf("%s run: %d total, %d succeeded, %d failed (%s)\n",
		s.Kind, s.Total, s.Succeeded, s.Failed,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, f := range s.Failures {
		fmt.Printf("  FAILED %s: %s (%s, %d attempts)\n", f.Item, f.Error, f.Reason, f.Attempts)
	}
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the backup schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Obtain a session token",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		username := ""
		if len(args) == 1 {
			username = args[0]
		} else {
			fmt.Print("Username: ")
			if _, err := fmt.Scanln(&username); err != nil {
				return fmt.Errorf("reading username: %w", err)
			}
		}

		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		a, err := newApp(ctx, "login")
		if err != nil {
			return err
		}
		defer a.Close()

		token, session, err := a.Login(ctx, username, string(raw))
		if err != nil {
			return err
		}
		fmt.Printf("Session valid until %s\n", session.ExpiresAt.Format(time.RFC3339))
		fmt.Println(token)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configListCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	backupCmd.AddCommand(backupRunCmd)
	archivalCmd.AddCommand(archivalRunCmd)
	rootCmd.AddCommand(configCmd, migrateCmd, discoverCmd, backupCmd, archivalCmd, serveCmd, loginCmd)
}
