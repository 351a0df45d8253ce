package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

// Store readiness backoff: start at 200ms, double each retry, cap at 5s.
const (
	storeBackoffMin = 200 * time.Millisecond
	storeBackoffMax = 5 * time.Second
)

// RefreshSummary counts the outcome of one refresh cycle.
type RefreshSummary struct {
	Places  int `json:"places"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Alerts  int `json:"alerts"`
}

type refreshTarget struct {
	name   string
	coords *domain.Coordinates
}

// Run refreshes every known place on RefreshInterval until ctx is cancelled.
// It waits for the history store to answer and then for RefreshInitialDelay
// before the first cycle.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.cfg.RefreshInterval,
		"initial_delay", s.cfg.RefreshInitialDelay,
		"monitored_places", len(s.cfg.MonitoredPlaces),
	)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	if !s.waitForStore(ctx) || !s.sleep(ctx, s.cfg.RefreshInitialDelay) {
		s.logger.Info("scheduler stopping", "reason", ctx.Err())
		return nil
	}

	ticker := s.clock.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RefreshAll(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			s.logger.Error("refresh cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// TriggerRefresh starts RefreshAll in the background. The refresh outlives the
// calling request and is cancelled by Close.
func (s *Service) TriggerRefresh() {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if _, err := s.RefreshAll(s.bgCtx); err != nil {
			if errors.Is(err, ErrRefreshInProgress) {
				s.logger.Debug("background refresh skipped", "reason", err)
				return
			}
			s.logger.Error("background refresh failed", "error", err)
		}
	}()
}

// RefreshAll ingests and evaluates every monitored and stored place. A failing
// place is logged and skipped. Only one cycle runs at a time.
func (s *Service) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	if !s.refreshMu.TryLock() {
		return RefreshSummary{}, ErrRefreshInProgress
	}
	defer s.refreshMu.Unlock()

	start := s.clock.Now()
	targets := s.refreshTargets(ctx)
	summary := RefreshSummary{Places: len(targets)}
	s.logger.Info("refresh cycle started", "places", len(targets))

	for i, t := range targets {
		if ctx.Err() != nil || (i > 0 && !s.sleep(ctx, s.cfg.RefreshPlaceDelay)) {
			return summary, ctx.Err()
		}
		alerted, err := s.refreshPlace(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			s.logger.Warn("refresh place failed", "location", t.name, "error", err)
			continue
		}
		summary.Updated++
		if alerted {
			summary.Alerts++
		}
	}

	s.metrics.RefreshCycleDuration.Observe(s.clock.Since(start).Seconds())
	s.metrics.RefreshCyclePlaces.Observe(float64(summary.Updated))
	s.logger.Info("refresh cycle complete",
		"places", summary.Places,
		"updated", summary.Updated,
		"failed", summary.Failed,
		"alerts", summary.Alerts,
	)
	return summary, nil
}

// refreshPlace runs the full workflow for one place and reports whether a
// HIGH assessment was raised.
func (s *Service) refreshPlace(ctx context.Context, t refreshTarget) (bool, error) {
	loc := domain.NormalizeLocation(t.name)
	snap, err := s.ingest(ctx, t.name, loc, t.coords)
	if err != nil {
		return false, err
	}
	if err := s.cache.Invalidate(ctx, loc); err != nil {
		s.logger.Warn("invalidate cached report failed", "location", loc, "error", err)
	}

	_, assessment := s.evaluate(ctx, loc, snap.Weather, SourceLive)
	s.notify(ctx, loc, snap.DisplayName, assessment)
	return assessment.IsHigh(), nil
}

// refreshTargets merges the monitored places with every stored place,
// deduplicated by normalized name. Stored coordinates are reused.
func (s *Service) refreshTargets(ctx context.Context) []refreshTarget {
	stored, err := s.store.Places(ctx)
	if err != nil {
		s.logger.Warn("list stored places failed", "error", err)
	}
	coords := make(map[string]*domain.Coordinates, len(stored))
	for _, p := range stored {
		coords[domain.NormalizeLocation(p.Location)] = p.Coordinates
	}

	seen := make(map[string]bool, len(s.cfg.MonitoredPlaces)+len(stored))
	targets := make([]refreshTarget, 0, len(s.cfg.MonitoredPlaces)+len(stored))
	add := func(name string) {
		key := domain.NormalizeLocation(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		targets = append(targets, refreshTarget{name: name, coords: coords[key]})
	}

	for _, name := range s.cfg.MonitoredPlaces {
		add(name)
	}
	for _, p := range stored {
		add(p.Location)
	}
	return targets
}

// waitForStore pings the history store with exponential backoff until it
// answers. It returns false if ctx is cancelled first.
func (s *Service) waitForStore(ctx context.Context) bool {
	backoff := storeBackoffMin
	for {
		err := s.store.Ping(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.logger.Warn("history store not ready", "error", err, "retry_in", backoff)
		if !s.sleep(ctx, backoff) {
			return false
		}
		backoff = retry.NextBackoff(backoff, storeBackoffMax)
	}
}

// sleep waits d on the service clock. It returns false if ctx is cancelled.
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
