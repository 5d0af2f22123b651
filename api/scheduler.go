/*
scheduler.go - Periodic reconciliation and due-date alert scheduler

PURPOSE:
  Periodically re-reconciles every customer and classifies pending invoices
  into due-date alerts. The last pass is kept for the UI and for
  GET /api/alerts/latest.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs one pass immediately on start
  - Each pass: ReconcileAll, then due-date alerts as of "now"
  - A failed reconciliation for one customer does not stop the pass
  - Alerts are computed, not delivered (no notification channel)

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - AlertWindow:   Look-ahead for due-soon alerts (default: 7 days)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAlertScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/alerts.go: AlertClassifier
  - ledger/reconciler.go: ReconcileAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/receivables-engine/ledger"
)

// AlertRun is the outcome of one scheduler pass.
type AlertRun struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Reconciled  int
	Alerts      []ledger.Alert
	Err         error
}

// AlertScheduler handles periodic reconciliation and alert classification.
type AlertScheduler struct {
	Engine        *ledger.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	AlertWindow   time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	latestMu sync.RWMutex
	latest   *AlertRun
}

// NewAlertScheduler creates a new scheduler.
func NewAlertScheduler(engine *ledger.Engine, log *zap.Logger) *AlertScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertScheduler{
		Engine:        engine,
		Logger:        log.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		AlertWindow:   ledger.DefaultAlertWindow,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *AlertScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.Engine.SetAlertWindow(s.AlertWindow)
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started",
		zap.Duration("check_interval", s.CheckInterval),
		zap.Duration("alert_window", s.AlertWindow),
	)
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *AlertScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *AlertScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass synchronously and records it as the latest run.
func (s *AlertScheduler) RunNow(ctx context.Context) AlertRun {
	run := AlertRun{StartedAt: s.Now()}

	results, err := s.Engine.ReconcileAll(ctx)
	run.Reconciled = len(results)
	if err != nil {
		// Partial sweeps still produce alerts from what was reconciled.
		s.Logger.Error("reconcile sweep failed", zap.Error(err))
		run.Err = err
	}

	alerts, err := s.Engine.GetDueDateAlerts(ctx, run.StartedAt)
	if err != nil {
		s.Logger.Error("alert classification failed", zap.Error(err))
		if run.Err == nil {
			run.Err = err
		}
	}
	run.Alerts = alerts
	run.CompletedAt = s.Now()

	s.latestMu.Lock()
	s.latest = &run
	s.latestMu.Unlock()

	overdue := 0
	for _, a := range alerts {
		if a.Type == ledger.AlertOverdue {
			overdue++
		}
	}
	s.Logger.Info("pass completed",
		zap.Int("reconciled", run.Reconciled),
		zap.Int("alerts", len(alerts)),
		zap.Int("overdue", overdue),
		zap.Duration("took", run.CompletedAt.Sub(run.StartedAt)),
	)
	return run
}

// LatestRun returns the most recent pass, if any has completed.
func (s *AlertScheduler) LatestRun() (AlertRun, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()

	if s.latest == nil {
		return AlertRun{}, false
	}
	return *s.latest, true
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *AlertScheduler) GetNextRunTime() time.Time {
	return s.Now().Add(s.CheckInterval)
}

func toAlertRunDTO(run AlertRun) AlertRunDTO {
	dto := AlertRunDTO{
		StartedAt:   run.StartedAt.Format(time.RFC3339),
		CompletedAt: run.CompletedAt.Format(time.RFC3339),
		Reconciled:  run.Reconciled,
		Alerts:      ToAlertDTOs(run.Alerts),
	}
	if run.Err != nil {
		dto.Error = run.Err.Error()
	}
	return dto
}
