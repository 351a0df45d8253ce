// Package monitor runs the disaster-risk workflow: it ingests current weather
// for a place, keeps its hourly history, evaluates risk, and hands HIGH
// assessments to the notifier. It also owns the periodic refresh of every
// known place.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-alert-service/internal/alerting"
	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

var (
	// ErrEmptyLocation is returned when Assess is called without a place name.
	ErrEmptyLocation = errors.New("location is required")

	// ErrRefreshInProgress is returned by RefreshAll while another cycle runs.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// Source says where the current reading of a report came from.
type Source string

const (
	SourceLive       Source = "live_api"
	SourceCache      Source = "verified_cache"
	SourceSimulation Source = "simulation"
)

const backgroundRefreshKey = "background_refresh"

// notifyTimeout bounds alert delivery, which is detached from the caller so a
// dropped request does not abort it.
const notifyTimeout = 30 * time.Second

// HistoryStore persists snapshots and hourly history.
type HistoryStore interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) (int64, error)
	History(ctx context.Context, location string, since time.Time) (domain.ObservationHistory, error)
	Place(ctx context.Context, location string) (domain.Snapshot, error)
	Places(ctx context.Context) ([]domain.Snapshot, error)
	Ping(ctx context.Context) error
}

// Notifier alerts subscribers about HIGH assessments.
type Notifier interface {
	Notify(ctx context.Context, location, displayName string, a domain.RiskAssessment) (alerting.Result, error)
}

// ReportCache holds recently rendered live reports per location.
type ReportCache interface {
	Get(ctx context.Context, location string) (Report, bool, error)
	Set(ctx context.Context, location string, r Report) error
	Invalidate(ctx context.Context, location string) error
}

// Report is the outcome of one assessment request.
type Report struct {
	Status         string                    `json:"status"`
	Source         Source                    `json:"source"`
	Location       string                    `json:"location"`
	Data           domain.Observation        `json:"data"`
	RiskAssessment domain.RiskAssessment     `json:"risk_assessment"`
	HistoryCount   int                       `json:"history_count"`
	History        domain.ObservationHistory `json:"history"`
	Notification   *alerting.Result          `json:"notification,omitempty"`
	Cached         bool                      `json:"cached,omitempty"`
}

// Config tunes the workflow and the refresh scheduler.
type Config struct {
	MonitoredPlaces           []string
	HistoryWindow             time.Duration
	RefreshInterval           time.Duration
	RefreshInitialDelay       time.Duration
	RefreshPlaceDelay         time.Duration
	BackgroundRefreshCooldown time.Duration
}

// Deps are the collaborators of a Service. Cache may be nil.
type Deps struct {
	Store    HistoryStore
	Weather  domain.WeatherSource
	Geocoder domain.Geocoder
	Notifier Notifier
	Cache    ReportCache
	Clock    clockwork.Clock
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Service orchestrates ingestion, evaluation, and notification.
type Service struct {
	cfg      Config
	store    HistoryStore
	weather  domain.WeatherSource
	geocoder domain.Geocoder
	notifier Notifier
	cache    ReportCache
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger

	bgCooldown *alerting.Cooldown
	refreshMu  sync.Mutex

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates a Service. Zero durations in cfg fall back to the defaults.
func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	cache := deps.Cache
	if cache == nil {
		cache = noopCache{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		weather:    deps.Weather,
		geocoder:   deps.Geocoder,
		notifier:   deps.Notifier,
		cache:      cache,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		bgCooldown: alerting.NewCooldown(cfg.BackgroundRefreshCooldown, deps.Clock),
		bgCtx:      ctx,
		bgCancel:   cancel,
	}
}

// MonitoredPlaces returns the configured places refreshed on every cycle.
func (s *Service) MonitoredPlaces() []string {
	return append([]string(nil), s.cfg.MonitoredPlaces...)
}

// CheckReadiness reports whether the history store is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	return nil
}

// Assess builds the risk report for a place. With a scenario name the reading
// is simulated and nothing is stored. Otherwise the current weather is fetched
// live, falling back to the last stored snapshot when the weather source fails.
func (s *Service) Assess(ctx context.Context, name, scenario string) (Report, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Report{}, ErrEmptyLocation
	}
	loc := domain.NormalizeLocation(name)

	if scenario = strings.TrimSpace(scenario); scenario != "" {
		return s.simulate(ctx, loc, strings.ToLower(scenario))
	}

	if r, ok := s.cachedReport(ctx, loc); ok {
		return r, nil
	}

	snap, source, err := s.currentSnapshot(ctx, name, loc)
	if err != nil {
		return Report{}, err
	}

	history, assessment := s.evaluate(ctx, loc, snap.Weather, source)
	report := Report{
		Status:         "success",
		Source:         source,
		Location:       loc,
		Data:           snap.Weather,
		RiskAssessment: assessment,
		HistoryCount:   len(history),
		History:        history,
		Notification:   s.notify(ctx, loc, snap.DisplayName, assessment),
	}

	if source == SourceLive {
		if err := s.cache.Set(ctx, loc, report); err != nil {
			s.logger.Warn("cache report failed", "location", loc, "error", err)
		}
		if s.bgCooldown.TryAcquire(backgroundRefreshKey) {
			s.TriggerRefresh()
		}
	}
	return report, nil
}

func (s *Service) simulate(ctx context.Context, loc, scenario string) (Report, error) {
	history, err := domain.SimulatedHistory(scenario, s.clock.Now().UTC())
	if err != nil {
		return Report{}, fmt.Errorf("scenario %q: %w", scenario, err)
	}

	assessment := domain.Evaluate(history, s.clock.Now().UTC())
	s.metrics.Assessments.WithLabelValues(string(assessment.RiskLevel), string(assessment.DisasterType), string(SourceSimulation)).Inc()
	s.logger.Info("simulated assessment",
		"location", loc,
		"scenario", scenario,
		"risk_level", assessment.RiskLevel,
		"disaster_type", assessment.DisasterType,
	)

	return Report{
		Status:         "success",
		Source:         SourceSimulation,
		Location:       loc,
		Data:           history[0],
		RiskAssessment: assessment,
		HistoryCount:   len(history),
		History:        history,
		Notification:   s.notify(ctx, loc, "", assessment),
	}, nil
}

func (s *Service) cachedReport(ctx context.Context, loc string) (Report, bool) {
	r, ok, err := s.cache.Get(ctx, loc)
	if err != nil {
		s.logger.Warn("report cache unavailable", "location", loc, "error", err)
		return Report{}, false
	}
	if !ok {
		return Report{}, false
	}
	r.Cached = true
	r.Notification = nil
	return r, true
}

// currentSnapshot fetches and stores the live reading, or falls back to the
// stored snapshot. Without either it returns ErrLocationNotFound when the
// place could not be geocoded and ErrWeatherUnavailable otherwise.
func (s *Service) currentSnapshot(ctx context.Context, name, loc string) (domain.Snapshot, Source, error) {
	stored, hasStored := s.storedPlace(ctx, loc)

	var coords *domain.Coordinates
	if hasStored {
		coords = stored.Coordinates
	}

	snap, err := s.ingest(ctx, name, loc, coords)
	if err == nil {
		return snap, SourceLive, nil
	}

	if hasStored {
		s.logger.Warn("serving stored snapshot",
			"location", loc,
			"updated_at", stored.UpdatedAt,
			"error", err,
		)
		if stored.DisplayName == "" {
			stored.DisplayName = domain.DisplayLocation(loc)
		}
		return stored, SourceCache, nil
	}
	if errors.Is(err, domain.ErrLocationNotFound) {
		return domain.Snapshot{}, "", fmt.Errorf("%q: %w", name, domain.ErrLocationNotFound)
	}
	return domain.Snapshot{}, "", fmt.Errorf("%w: %s: %w", domain.ErrWeatherUnavailable, loc, err)
}

func (s *Service) storedPlace(ctx context.Context, loc string) (domain.Snapshot, bool) {
	snap, err := s.store.Place(ctx, loc)
	if err != nil {
		if !errors.Is(err, domain.ErrPlaceNotFound) {
			s.logger.Warn("load stored place failed", "location", loc, "error", err)
		}
		return domain.Snapshot{}, false
	}
	return snap, true
}

// ingest resolves coordinates, fetches the current reading, and saves it. A
// failed save is logged and does not fail the ingest.
func (s *Service) ingest(ctx context.Context, name, loc string, coords *domain.Coordinates) (domain.Snapshot, error) {
	at, err := domain.ResolveCoordinates(ctx, name, coords, s.geocoder, s.logger)
	if err != nil {
		return domain.Snapshot{}, err
	}

	obs, err := s.weather.CurrentWeather(ctx, at)
	if err != nil {
		s.metrics.IngestErrors.Inc()
		return domain.Snapshot{}, fmt.Errorf("fetch weather for %s: %w", loc, err)
	}

	snap := domain.Snapshot{
		Location:    loc,
		DisplayName: domain.DisplayLocation(loc),
		Coordinates: &at,
		Weather:     obs,
		UpdatedAt:   s.clock.Now().UTC(),
	}
	s.metrics.ObservationsIngested.Inc()

	pruned, err := s.store.SaveSnapshot(ctx, snap)
	if err != nil {
		s.metrics.IngestErrors.Inc()
		s.logger.Warn("save snapshot failed", "location", loc, "error", err)
		return snap, nil
	}
	if pruned > 0 {
		s.metrics.HistoryPruned.Add(float64(pruned))
		s.logger.Debug("pruned stale history", "location", loc, "rows", pruned)
	}
	return snap, nil
}

// evaluate loads the history window, makes sure the current reading is part of
// it, and classifies the result.
func (s *Service) evaluate(ctx context.Context, loc string, current domain.Observation, source Source) (domain.ObservationHistory, domain.RiskAssessment) {
	now := s.clock.Now().UTC()
	history, err := s.store.History(ctx, loc, now.Add(-s.cfg.HistoryWindow))
	if err != nil {
		s.logger.Warn("load history failed", "location", loc, "error", err)
		history = nil
	}
	history = history.WithCurrent(current)

	assessment := domain.Evaluate(history, now)
	s.metrics.Assessments.WithLabelValues(string(assessment.RiskLevel), string(assessment.DisasterType), string(source)).Inc()
	s.logger.Info("risk evaluated",
		"location", loc,
		"source", source,
		"history_count", len(history),
		"risk_level", assessment.RiskLevel,
		"disaster_type", assessment.DisasterType,
		"confidence", assessment.ConfidenceScore,
	)
	return history, assessment
}

func (s *Service) notify(ctx context.Context, loc, displayName string, a domain.RiskAssessment) *alerting.Result {
	if !a.IsHigh() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	res, err := s.notifier.Notify(ctx, loc, displayName, a)
	if err != nil {
		s.logger.Error("notify subscribers failed", "location", loc, "error", err)
	}
	return &res
}

// Close cancels background refreshes and waits for them to return.
func (s *Service) Close() {
	s.bgCancel()
	s.bgWG.Wait()
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (Report, bool, error) { return Report{}, false, nil }
func (noopCache) Set(context.Context, string, Report) error          { return nil }
func (noopCache) Invalidate(context.Context, string) error           { return nil }

func (c Config) withDefaults() Config {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 24 * time.Hour
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Minute
	}
	if c.RefreshInitialDelay < 0 {
		c.RefreshInitialDelay = 0
	}
	if c.RefreshPlaceDelay < 0 {
		c.RefreshPlaceDelay = 0
	}
	if c.BackgroundRefreshCooldown < 0 {
		c.BackgroundRefreshCooldown = 0
	}
	return c
}
