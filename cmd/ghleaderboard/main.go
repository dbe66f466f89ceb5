package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ghleaderboard.shikanime.studio/internal/config"
	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/datastore"
	"ghleaderboard.shikanime.studio/internal/http"
	"ghleaderboard.shikanime.studio/internal/leaderboard"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:               "ghleaderboard",
		Short:             "GitHub contribution leaderboard server and utilities",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Run the API server and the background refresher",
		RunE:  runServer,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert all applied migrations",
		RunE:  runMigrateDown,
	}
	refreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the score of every registered user once",
		RunE:  runRefresh,
	}
	scoreCmd = &cobra.Command{
		Use:   "score <username>",
		Short: "Refresh and print the score of one user",
		Args:  cobra.ExactArgs(1),
		RunE:  runScore,
	}

	// Flags
	addr       string
	dsn        string
	configFile string

	cfg      = config.New()
	shutdown = func() {}
)

func init() {
	serverCmd.Flags().StringVar(&addr, "addr", "", "Address to run the server on (host:port). If empty, uses HOST and PORT environment variables")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database source name in the format driver://dataSourceName. Falls back to DSN environment variable")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional config file, reloaded on change")
	migrateCmd.AddCommand(upCmd, downCmd)
	rootCmd.AddCommand(serverCmd, migrateCmd, refreshCmd, scoreCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if configFile != "" {
		if err := cfg.ReadFile(configFile); err != nil {
			return err
		}
		cfg.Watch()
	}
	if dsn != "" {
		cfg.Set("DSN", dsn)
	}
	config.SetupLog(cfg)
	stop, err := config.SetupTelemetry(cmd.Context(), cfg)
	if err != nil {
		slog.WarnContext(cmd.Context(), "Telemetry disabled", "error", err)
	}
	shutdown = stop
	cobra.OnFinalize(func() { shutdown() })
	return nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runServer(cmd *cobra.Command, _ []string) error {
	srv, err := http.NewServerForConfig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil {
			slog.Error("Error during shutdown", "error", cerr)
		}
	}()

	finalAddr := addr
	if finalAddr == "" {
		finalAddr = cfg.GetAddr()
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, finalAddr) })
	g.Go(func() error {
		return leaderboard.NewRefresherForConfig(srv.Leaderboard(), cfg).Run(ctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	if migrated, err := migrateSQLite(); migrated || err != nil {
		return err
	}
	mg, err := database.NewMigratorForConfig(cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	if isSQLite() {
		return errors.New("migrate down is not supported for sqlite3 DSNs")
	}
	mg, err := database.NewMigratorForConfig(cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Down()
}

func isSQLite() bool {
	u, err := cfg.GetDsn()
	return err == nil && (u.Scheme == "sqlite3" || u.Scheme == "sqlite")
}

// migrateSQLite applies the embedded SQLite schema when the DSN points at SQLite.
func migrateSQLite() (bool, error) {
	if !isSQLite() {
		return false, nil
	}
	ds, err := datastore.NewForConfig(cfg)
	if err != nil {
		return true, err
	}
	return true, ds.Close()
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	lb, err := leaderboard.NewForConfig(cfg)
	if err != nil {
		return err
	}
	defer lb.Close()
	ctx, stop := signalContext(cmd)
	defer stop()
	report, err := leaderboard.NewRefresherForConfig(lb, cfg).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "refreshed=%d skipped=%d changed=%d\n", report.Refreshed, report.Skipped, report.Changed)
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	lb, err := leaderboard.NewForConfig(cfg)
	if err != nil {
		return err
	}
	defer lb.Close()
	ctx, stop := signalContext(cmd)
	defer stop()
	rec, delta, err := lb.Refresh(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Score any   `json:"score"`
		Delta int64 `json:"delta"`
	}{rec, delta})
}
