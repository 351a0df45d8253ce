package monitor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-alert-service/internal/alerting"
	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/monitor"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

// --- mocks ---

type memStore struct {
	mu          sync.Mutex
	places      map[string]domain.Snapshot
	history     map[string]map[string]domain.Observation
	saveErr     error
	pingErr     error
	placesCalls atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{
		places:  map[string]domain.Snapshot{},
		history: map[string]map[string]domain.Observation{},
	}
}

func (s *memStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	if prev, ok := s.places[snap.Location]; ok && snap.Coordinates == nil {
		snap.Coordinates = prev.Coordinates
	}
	s.places[snap.Location] = snap
	s.addLocked(snap.Location, snap.Weather)
	return 0, nil
}

func (s *memStore) addLocked(loc string, o domain.Observation) {
	if s.history[loc] == nil {
		s.history[loc] = map[string]domain.Observation{}
	}
	s.history[loc][o.HourID()] = o
}

func (s *memStore) seedHistory(loc string, obs ...domain.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range obs {
		s.addLocked(loc, o)
	}
}

func (s *memStore) seedPlace(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places[snap.Location] = snap
}

func (s *memStore) History(_ context.Context, loc string, since time.Time) (domain.ObservationHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out domain.ObservationHistory
	for _, o := range s.history[loc] {
		if !o.ObservedAt.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out, nil
}

func (s *memStore) Place(_ context.Context, loc string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.places[loc]
	if !ok {
		return domain.Snapshot{}, domain.ErrPlaceNotFound
	}
	return snap, nil
}

func (s *memStore) Places(_ context.Context) ([]domain.Snapshot, error) {
	s.placesCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Snapshot, 0, len(s.places))
	for _, p := range s.places {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out, nil
}

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

type fakeWeather struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	reading domain.Observation
	failFor map[domain.Coordinates]bool
	err     error
	calls   atomic.Int64
}

func (w *fakeWeather) CurrentWeather(_ context.Context, at domain.Coordinates) (domain.Observation, error) {
	w.calls.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return domain.Observation{}, w.err
	}
	if w.failFor[at] {
		return domain.Observation{}, errors.New("upstream down")
	}
	obs := w.reading
	obs.ObservedAt = w.clock.Now().UTC()
	return obs, nil
}

func (w *fakeWeather) set(reading domain.Observation, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reading = reading
	w.err = err
}

type fakeGeocoder struct {
	mu     sync.Mutex
	coords map[string]domain.Coordinates
	calls  []string
}

func (g *fakeGeocoder) Geocode(_ context.Context, name string) (domain.Coordinates, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)
	c, ok := g.coords[domain.NormalizeLocation(name)]
	if !ok {
		return domain.Coordinates{}, domain.ErrLocationNotFound
	}
	return c, nil
}

func (g *fakeGeocoder) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type notifyCall struct {
	location    string
	assessment  domain.RiskAssessment
	ctxErr      error
	hasDeadline bool
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(ctx context.Context, location, _ string, a domain.RiskAssessment) (alerting.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	n.calls = append(n.calls, notifyCall{location: location, assessment: a, ctxErr: ctx.Err(), hasDeadline: hasDeadline})
	return alerting.Result{AlertID: "alert-" + location, Sent: 1}, nil
}

func (n *fakeNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type memCache struct {
	mu          sync.Mutex
	reports     map[string]monitor.Report
	invalidated []string
}

func (c *memCache) Get(_ context.Context, loc string) (monitor.Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[loc]
	return r, ok, nil
}

func (c *memCache) Set(_ context.Context, loc string, r monitor.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[loc] = r
	return nil
}

func (c *memCache) Invalidate(_ context.Context, loc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reports, loc)
	c.invalidated = append(c.invalidated, loc)
	return nil
}

// --- harness ---

var testNow = time.Date(2024, 4, 26, 15, 30, 0, 0, time.UTC)

var (
	mumbai = domain.Coordinates{Lat: 19.07, Lon: 72.88}
	delhi  = domain.Coordinates{Lat: 28.61, Lon: 77.21}
	pune   = domain.Coordinates{Lat: 18.52, Lon: 73.86}
)

type harness struct {
	store    *memStore
	weather  *fakeWeather
	geocoder *fakeGeocoder
	notifier *fakeNotifier
	cache    *memCache
	clock    *clockwork.FakeClock
	metrics  *observability.Metrics
	svc      *monitor.Service
}

func newHarness(cfg monitor.Config) *harness {
	clock := clockwork.NewFakeClockAt(testNow)
	h := &harness{
		store:    newMemStore(),
		weather:  &fakeWeather{clock: clock, reading: calm(), failFor: map[domain.Coordinates]bool{}},
		geocoder: &fakeGeocoder{coords: map[string]domain.Coordinates{"mumbai": mumbai, "delhi": delhi, "pune": pune}},
		notifier: &fakeNotifier{},
		cache:    &memCache{reports: map[string]monitor.Report{}},
		clock:    clock,
		metrics:  observability.NewMetricsForTesting(),
	}
	h.svc = monitor.New(cfg, monitor.Deps{
		Store:    h.store,
		Weather:  h.weather,
		Geocoder: h.geocoder,
		Notifier: h.notifier,
		Cache:    h.cache,
		Clock:    clock,
		Metrics:  h.metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func calm() domain.Observation {
	return domain.Observation{TemperatureC: 28, WindSpeedKmh: 12, CloudCoverPercent: 40, HumidityPercent: 60}
}

func stormy() domain.Observation {
	return domain.Observation{TemperatureC: 27, WindSpeedKmh: 110, RainMmPerHour: 30, CloudCoverPercent: 100, HumidityPercent: 90}
}

func (s *memStore) setPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}
