package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

// DefaultRetention is how long hourly history is kept per location.
const DefaultRetention = 24 * time.Hour

// HistoryStore keeps the latest snapshot per location and a rolling window of
// hourly observations.
type HistoryStore struct {
	db        DBTX
	retention time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewHistoryStore creates a HistoryStore. A non-positive retention falls back
// to DefaultRetention.
func NewHistoryStore(db DBTX, retention time.Duration, clock clockwork.Clock, logger *slog.Logger) *HistoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &HistoryStore{db: db, retention: retention, clock: clock, logger: logger}
}

const upsertPlaceSQL = `INSERT INTO places (location, display_name, lat, lon, weather, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (location) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    lat = COALESCE(EXCLUDED.lat, places.lat),
    lon = COALESCE(EXCLUDED.lon, places.lon),
    weather = EXCLUDED.weather,
    updated_at = EXCLUDED.updated_at`

const upsertHourSQL = `INSERT INTO place_history (location, hour_id, observed_at, temperature_c,
    wind_speed_kmh, rain_mm_per_hour, cloud_cover_percent, humidity_percent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (location, hour_id) DO UPDATE SET
    observed_at = EXCLUDED.observed_at,
    temperature_c = EXCLUDED.temperature_c,
    wind_speed_kmh = EXCLUDED.wind_speed_kmh,
    rain_mm_per_hour = EXCLUDED.rain_mm_per_hour,
    cloud_cover_percent = EXCLUDED.cloud_cover_percent,
    humidity_percent = EXCLUDED.humidity_percent
WHERE place_history.observed_at <= EXCLUDED.observed_at`

const pruneHistorySQL = `DELETE FROM place_history WHERE location = $1 AND observed_at < $2`

// SaveSnapshot upserts the latest snapshot, writes the reading into its hour
// bucket (the newest reading per hour wins), and prunes history older than the
// retention window. Stored coordinates are kept when the snapshot has none.
// It returns the number of pruned history rows.
func (s *HistoryStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) (int64, error) {
	weather, err := json.Marshal(snap.Weather)
	if err != nil {
		return 0, fmt.Errorf("encode weather: %w", err)
	}

	var lat, lon *float64
	if snap.Coordinates != nil {
		lat, lon = &snap.Coordinates.Lat, &snap.Coordinates.Lon
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.clock.Now()
	}

	if _, err := s.db.Exec(ctx, upsertPlaceSQL,
		snap.Location, snap.DisplayName, lat, lon, weather, snap.UpdatedAt,
	); err != nil {
		return 0, fmt.Errorf("upsert place %s: %w", snap.Location, err)
	}

	obs := snap.Weather
	if _, err := s.db.Exec(ctx, upsertHourSQL,
		snap.Location, obs.HourID(), obs.ObservedAt, obs.TemperatureC,
		obs.WindSpeedKmh, obs.RainMmPerHour, obs.CloudCoverPercent, obs.HumidityPercent,
	); err != nil {
		return 0, fmt.Errorf("upsert history %s/%s: %w", snap.Location, obs.HourID(), err)
	}

	tag, err := s.db.Exec(ctx, pruneHistorySQL, snap.Location, s.clock.Now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("prune history %s: %w", snap.Location, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("pruned stale history", "location", snap.Location, "rows", n)
	}
	return tag.RowsAffected(), nil
}

const historySQL = `SELECT observed_at, temperature_c, wind_speed_kmh, rain_mm_per_hour,
    cloud_cover_percent, humidity_percent
FROM place_history
WHERE location = $1 AND observed_at >= $2
ORDER BY observed_at DESC`

// History returns observations recorded at or after since, newest first.
func (s *HistoryStore) History(ctx context.Context, location string, since time.Time) (domain.ObservationHistory, error) {
	rows, err := s.db.Query(ctx, historySQL, location, since)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", location, err)
	}
	defer rows.Close()

	var history domain.ObservationHistory
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.ObservedAt, &o.TemperatureC, &o.WindSpeedKmh, &o.RainMmPerHour,
			&o.CloudCoverPercent, &o.HumidityPercent); err != nil {
			return nil, fmt.Errorf("scan history %s: %w", location, err)
		}
		o.ObservedAt = o.ObservedAt.UTC()
		history = append(history, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history %s: %w", location, err)
	}
	return history, nil
}

const placeColumns = `location, display_name, lat, lon, weather, updated_at`

// Place returns the latest snapshot for a location or domain.ErrPlaceNotFound.
func (s *HistoryStore) Place(ctx context.Context, location string) (domain.Snapshot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+placeColumns+` FROM places WHERE location = $1`, location)
	snap, err := scanPlace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrPlaceNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("get place %s: %w", location, err)
	}
	return snap, nil
}

// Places returns every stored snapshot ordered by location.
func (s *HistoryStore) Places(ctx context.Context) ([]domain.Snapshot, error) {
	rows, err := s.db.Query(ctx, `SELECT `+placeColumns+` FROM places ORDER BY location`)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var places []domain.Snapshot
	for rows.Next() {
		snap, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		places = append(places, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate places: %w", err)
	}
	return places, nil
}

// DeleteHistory wipes all hourly history for a location.
func (s *HistoryStore) DeleteHistory(ctx context.Context, location string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM place_history WHERE location = $1`, location)
	if err != nil {
		return 0, fmt.Errorf("delete history %s: %w", location, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteFutureHistory removes history rows stamped after now, across all locations.
func (s *HistoryStore) DeleteFutureHistory(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM place_history WHERE observed_at > $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete future history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies the database is reachable.
func (s *HistoryStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping history store: %w", err)
	}
	return nil
}

// scanPlace reads a places row. The weather column is decoded leniently so
// snapshots written by older collectors still load; a reading without its own
// timestamp takes the snapshot's updated_at.
func scanPlace(row pgx.Row) (domain.Snapshot, error) {
	var (
		snap     domain.Snapshot
		lat, lon *float64
		weather  []byte
	)
	if err := row.Scan(&snap.Location, &snap.DisplayName, &lat, &lon, &weather, &snap.UpdatedAt); err != nil {
		return domain.Snapshot{}, err
	}
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	if lat != nil && lon != nil {
		snap.Coordinates = &domain.Coordinates{Lat: *lat, Lon: *lon}
	}

	var raw domain.RawObservation
	if err := json.Unmarshal(weather, &raw); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode weather for %s: %w", snap.Location, err)
	}
	snap.Weather = raw.Normalize(snap.UpdatedAt)
	return snap, nil
}
