package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/monitor"
)

func TestRefreshAll_MergesMonitoredAndStoredPlaces(t *testing.T) {
	h := newHarness(monitor.Config{MonitoredPlaces: []string{"Mumbai", "delhi", " Delhi "}})
	defer h.svc.Close()
	h.store.seedPlace(domain.Snapshot{Location: "mumbai", Coordinates: &mumbai})
	h.store.seedPlace(domain.Snapshot{Location: "pune", Coordinates: &pune})

	summary, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, monitor.RefreshSummary{Places: 3, Updated: 3}, summary)
	assert.Equal(t, []string{"delhi"}, h.geocoder.calls, "stored coordinates skip geocoding")
	assert.Equal(t, int64(3), h.weather.calls.Load())
	assert.ElementsMatch(t, []string{"mumbai", "delhi", "pune"}, h.cache.invalidated)

	for _, loc := range []string{"mumbai", "delhi", "pune"} {
		history, err := h.store.History(context.Background(), loc, testNow.Add(-time.Hour))
		require.NoError(t, err)
		assert.Len(t, history, 1, loc)
	}
}

func TestRefreshAll_SkipsFailingPlaces(t *testing.T) {
	h := newHarness(monitor.Config{MonitoredPlaces: []string{"Mumbai", "Delhi", "Atlantis", "Pune"}})
	defer h.svc.Close()
	h.weather.failFor[delhi] = true

	summary, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, monitor.RefreshSummary{Places: 4, Updated: 2, Failed: 2}, summary)
}

func TestRefreshAll_NotifiesHighRisk(t *testing.T) {
	h := newHarness(monitor.Config{MonitoredPlaces: []string{"Mumbai", "Pune"}})
	defer h.svc.Close()
	h.weather.set(stormy(), nil)

	summary, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Alerts)

	calls := h.notifier.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "mumbai", calls[0].location)
	assert.Equal(t, domain.DisasterCyclone, calls[0].assessment.DisasterType)
}

func TestRefreshAll_PausesBetweenPlaces(t *testing.T) {
	h := newHarness(monitor.Config{
		MonitoredPlaces:   []string{"Mumbai", "Delhi"},
		RefreshPlaceDelay: time.Second,
	})
	defer h.svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan monitor.RefreshSummary, 1)
	go func() {
		s, err := h.svc.RefreshAll(ctx)
		assert.NoError(t, err)
		done <- s
	}()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int64(1), h.weather.calls.Load())

	_, err := h.svc.RefreshAll(ctx)
	assert.ErrorIs(t, err, monitor.ErrRefreshInProgress)

	h.clock.Advance(time.Second)
	select {
	case s := <-done:
		assert.Equal(t, 2, s.Updated)
	case <-ctx.Done():
		t.Fatal("refresh did not finish")
	}
}

func TestRefreshAll_CancelledDuringPause(t *testing.T) {
	h := newHarness(monitor.Config{
		MonitoredPlaces:   []string{"Mumbai", "Delhi"},
		RefreshPlaceDelay: time.Minute,
	})
	defer h.svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.RefreshAll(ctx)
		errCh <- err
	}()

	require.NoError(t, h.clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, int64(1), h.weather.calls.Load())
}

func TestRun_RefreshesOnInterval(t *testing.T) {
	h := newHarness(monitor.Config{
		MonitoredPlaces: []string{"Mumbai"},
		RefreshInterval: time.Hour,
	})
	defer h.svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	assert.Eventually(t, func() bool { return h.weather.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.SchedulerRunning), 0)

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return h.weather.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.SchedulerRunning), 0)
}

func TestRun_WaitsForInitialDelay(t *testing.T) {
	h := newHarness(monitor.Config{
		MonitoredPlaces:     []string{"Mumbai"},
		RefreshInitialDelay: 10 * time.Second,
	})
	defer h.svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.svc.Run(ctx) }()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int64(0), h.weather.calls.Load())

	h.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return h.weather.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_WaitsForStore(t *testing.T) {
	h := newHarness(monitor.Config{MonitoredPlaces: []string{"Mumbai"}})
	defer h.svc.Close()
	h.store.setPingErr(errors.New("connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.svc.Run(ctx) }()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int64(0), h.weather.calls.Load())

	h.store.setPingErr(nil)
	h.clock.Advance(200 * time.Millisecond)
	assert.Eventually(t, func() bool { return h.weather.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_StopsWhileWaiting(t *testing.T) {
	h := newHarness(monitor.Config{RefreshInitialDelay: time.Hour})
	defer h.svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	cancel()
	assert.NoError(t, <-done)
}
