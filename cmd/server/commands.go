package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/receivables-engine/api"
	"github.com/warp/receivables-engine/config"
	"github.com/warp/receivables-engine/ledger"
	"github.com/warp/receivables-engine/logger"
	"github.com/warp/receivables-engine/store/sqlite"
)

var version = "0.1.0"

// app holds what every command needs once configuration is resolved.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *sqlite.Store
	engine *ledger.Engine
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// setup loads config, applies flag overrides and opens the store.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}

	engine := ledger.NewEngine(store, log.Named("ledger"))
	engine.SetAlertWindow(cfg.Scheduler.AlertWindow)

	return &app{cfg: cfg, log: log, store: store, engine: engine}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "receivables",
		Short: "Accounts-receivable ledger and reconciliation service",
		Long: `receivables keeps a per-customer ledger of invoices, payments and advance
deposits, keeps each customer's balance reconciled against that ledger,
settles payments against the oldest invoices first and reports invoices
that are due soon or overdue.

Configuration comes from config.toml and RECEIVABLES_* environment
variables; a .env file in the working directory is loaded first.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().String("db", "", "SQLite database path (overrides database.path)")
	root.Flags().String("port", "", "HTTP server port (overrides app.port)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	serve.Flags().String("port", "", "HTTP server port (overrides app.port)")

	seed := &cobra.Command{
		Use:       "seed <scenario>",
		Short:     "Reset the database and load a demo scenario",
		Long:      "Reset the database and load a demo scenario.\n\n" + scenarioHelp(),
		Example:   "  receivables seed fifo-settlement --db=./demo.db",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scenarioIDs(),
		RunE:      runSeed,
	}

	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "Print current due-date alerts as JSON",
		Example: `  # Alerts as of now
  receivables alerts

  # Alerts as of a given day
  receivables alerts --as-of 2026-01-15`,
		RunE: runAlerts,
	}
	alerts.Flags().String("as-of", "", "Evaluate alerts as of this date (YYYY-MM-DD, default: now)")

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute aggregates for every customer",
		RunE:  runReconcile,
	}

	root.AddCommand(serve, seed, alerts, reconcile)
	return root
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		a.cfg.App.Port = port
	}

	handler := api.NewHandler(a.engine, a.store, a.log.Named("api"))

	scheduler := api.NewAlertScheduler(a.engine, a.log)
	scheduler.Enabled = a.cfg.Scheduler.Enabled
	scheduler.CheckInterval = a.cfg.Scheduler.CheckInterval
	scheduler.AlertWindow = a.cfg.Scheduler.AlertWindow
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: a.cfg.HTTP.CORSAllowOrigins,
		Logger:      a.log.Named("http"),
	})

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", a.cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		scheduler.Stop()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		a.log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// OPERATOR COMMANDS
// =============================================================================

func runSeed(cmd *cobra.Command, args []string) error {
	id := args[0]
	if !api.IsScenario(id) {
		return fmt.Errorf("unknown scenario %q\n\n%s", id, scenarioHelp())
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	if err := api.SeedScenario(ctx, a.engine, id, time.Now()); err != nil {
		return fmt.Errorf("seed %s: %w", id, err)
	}

	customers, err := a.engine.ListCustomers(ctx)
	if err != nil {
		return err
	}
	a.log.Info("scenario loaded", zap.String("scenario", id), zap.Int("customers", len(customers)))
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded scenario %s into %s (%d customers)\n", id, a.cfg.Database.Path, len(customers))
	return nil
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	now := time.Now()
	if s, _ := cmd.Flags().GetString("as-of"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fmt.Errorf("invalid --as-of date, use YYYY-MM-DD: %w", err)
		}
		now = t
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	alerts, err := a.engine.GetDueDateAlerts(cmd.Context(), now)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(api.ToAlertDTOs(alerts))
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.engine.ReconcileAll(cmd.Context())
	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.Skipped {
			continue
		}
		fmt.Fprintf(out, "%s\tcredit=%s\tpaid=%s\tbalance=%s\n",
			r.CustomerID, r.TotalCredit.StringFixed(2), r.TotalPaid.StringFixed(2), r.Balance.StringFixed(2))
	}
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Fprintf(out, "Reconciled %d customers\n", len(results))
	return nil
}

func scenarioIDs() []string {
	var ids []string
	for _, s := range api.Scenarios() {
		ids = append(ids, s.ID)
	}
	return ids
}

func scenarioHelp() string {
	help := "Available scenarios:\n"
	for _, s := range api.Scenarios() {
		help += fmt.Sprintf("  %-18s %s\n", s.ID, s.Description)
	}
	return help
}
