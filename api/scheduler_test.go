package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T, h *Handler) *AlertScheduler {
	t.Helper()
	s := NewAlertScheduler(h.Engine, zaptest.NewLogger(t))
	s.Now = func() time.Time { return testNow }
	h.Scheduler = s
	return s
}

func TestScheduler_RunNowRecordsLatest(t *testing.T) {
	// GIVEN: The collections-book scenario and a scheduler
	// WHEN: One pass runs
	// THEN: Every customer is reconciled and the alerts are kept as the latest run

	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, SeedScenario(ctx, h.Engine, "collections-book", testNow))
	s := newTestScheduler(t, h)

	_, ok := s.LatestRun()
	assert.False(t, ok)

	run := s.RunNow(ctx)

	require.NoError(t, run.Err)
	assert.Equal(t, 8, run.Reconciled)
	assert.Len(t, run.Alerts, 7)
	assert.True(t, run.StartedAt.Equal(testNow))

	latest, ok := s.LatestRun()
	require.True(t, ok)
	assert.Len(t, latest.Alerts, 7)
}

func TestScheduler_LatestEndpoint(t *testing.T) {
	api := newTestAPI(t)

	// Disabled scheduler.
	rec := api.do(http.MethodGet, "/api/alerts/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s := newTestScheduler(t, api.handler)

	rec = api.do(http.MethodGet, "/api/alerts/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	c := api.createCustomer("Acme")
	api.invoice(c.ID, "80", "2026-02-01", "2026-03-14")
	s.RunNow(context.Background())

	rec = api.do(http.MethodGet, "/api/alerts/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run AlertRunDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, testNow.Format(time.RFC3339), run.StartedAt)
	assert.Equal(t, 1, run.Reconciled)
	require.Len(t, run.Alerts, 1)
	assert.Equal(t, "overdue", run.Alerts[0].AlertType)
	assert.Empty(t, run.Error)
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: An enabled scheduler with a long interval
	// WHEN: Started and stopped
	// THEN: The immediate pass has run and Stop returns; a second Start is ignored

	h := setupTestHandler(t)
	s := newTestScheduler(t, h)
	s.CheckInterval = time.Hour
	s.AlertWindow = 14 * 24 * time.Hour

	s.Start()
	s.Start()
	require.Eventually(t, func() bool {
		_, ok := s.LatestRun()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, 14*24*time.Hour, h.Engine.Classifier.Window)
	assert.Equal(t, testNow.Add(time.Hour), s.GetNextRunTime())
}

func TestScheduler_Restart(t *testing.T) {
	// GIVEN: A scheduler that was started and stopped
	// WHEN: It is started and stopped a second time
	// THEN: The second run loop makes its own pass and Stop does not panic

	h := setupTestHandler(t)
	s := newTestScheduler(t, h)
	s.CheckInterval = time.Hour

	s.Start()
	require.Eventually(t, func() bool {
		_, ok := s.LatestRun()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	first, _ := s.LatestRun()
	s.Now = func() time.Time { return testNow.Add(time.Minute) }

	s.Start()
	require.Eventually(t, func() bool {
		run, _ := s.LatestRun()
		return run.StartedAt.After(first.StartedAt)
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotPanics(t, s.Stop)
	assert.NotPanics(t, s.Stop)
}

func TestScheduler_Disabled(t *testing.T) {
	h := setupTestHandler(t)
	s := newTestScheduler(t, h)
	s.Enabled = false

	s.Start()
	s.Stop()

	_, ok := s.LatestRun()
	assert.False(t, ok)
}
