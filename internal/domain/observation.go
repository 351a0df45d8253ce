package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Observation is one timestamped weather reading for a location.
// Values are immutable once constructed by ParseObservation or a weather source.
type Observation struct {
	TemperatureC      float64   `json:"temp"`
	WindSpeedKmh      float64   `json:"wind_speed"`
	RainMmPerHour     float64   `json:"rain_1h"`
	CloudCoverPercent int       `json:"clouds"`
	HumidityPercent   int       `json:"humidity"`
	ObservedAt        time.Time `json:"timestamp"`
}

// HourID returns the hourly bucket the observation belongs to.
func (o Observation) HourID() string {
	return HourID(o.ObservedAt)
}

// ObservationHistory is an ordered run of observations for one location, newest first.
type ObservationHistory []Observation

// Latest returns the most recent observation and false when the history is empty.
func (h ObservationHistory) Latest() (Observation, bool) {
	if len(h) == 0 {
		return Observation{}, false
	}
	return h[0], true
}

// HasHour reports whether any observation falls into the given hour bucket.
func (h ObservationHistory) HasHour(hourID string) bool {
	for _, o := range h {
		if o.HourID() == hourID {
			return true
		}
	}
	return false
}

// WithCurrent prepends current unless the history already holds a reading for
// the same hour bucket. The receiver is not modified.
func (h ObservationHistory) WithCurrent(current Observation) ObservationHistory {
	if h.HasHour(current.HourID()) {
		return h
	}
	out := make(ObservationHistory, 0, len(h)+1)
	out = append(out, current)
	return append(out, h...)
}

// RawObservation is the loosely typed record produced by upstream collectors
// and older snapshot payloads. Numeric fields may be JSON numbers, quoted
// numbers, null, or absent. The reading time lives in either "timestamp" or
// "captured_at".
type RawObservation struct {
	Temp       json.RawMessage `json:"temp"`
	WindSpeed  json.RawMessage `json:"wind_speed"`
	Rain1h     json.RawMessage `json:"rain_1h"`
	Clouds     json.RawMessage `json:"clouds"`
	Humidity   json.RawMessage `json:"humidity"`
	Timestamp  string          `json:"timestamp"`
	CapturedAt string          `json:"captured_at"`
}

// ParseObservation decodes a raw JSON record into a typed Observation.
// Only undecodable JSON is an error; missing or malformed fields degrade to zero
// and a missing or unparseable timestamp resolves to the current time.
func ParseObservation(data []byte) (Observation, error) {
	var raw RawObservation
	if err := json.Unmarshal(data, &raw); err != nil {
		return Observation{}, fmt.Errorf("parse observation: %w", err)
	}
	return raw.Normalize(clock.Now()), nil
}

// Normalize resolves the raw record into an Observation. "timestamp" takes
// precedence over "captured_at" when both parse; when neither does, now is
// used. Cloud cover and humidity are clamped to [0, 100].
func (r RawObservation) Normalize(now time.Time) Observation {
	return Observation{
		TemperatureC:      numberOrZero(r.Temp),
		WindSpeedKmh:      numberOrZero(r.WindSpeed),
		RainMmPerHour:     numberOrZero(r.Rain1h),
		CloudCoverPercent: percentOrZero(r.Clouds),
		HumidityPercent:   percentOrZero(r.Humidity),
		ObservedAt:        resolveTimestamp(r.Timestamp, r.CapturedAt, now),
	}
}

// numberOrZero accepts a JSON number or a quoted number, returning 0 otherwise.
func numberOrZero(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	return parseFloatOrZero(s)
}

// percentOrZero reads a whole percentage clamped to [0, 100].
func percentOrZero(raw json.RawMessage) int {
	return int(clamp(numberOrZero(raw), 0, 100))
}

// parseFloatOrZero parses a string as float64, returning 0 on failure.
func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// timestampLayouts covers RFC 3339 plus the offset-less ISO 8601 forms older
// snapshots were written with. Offset-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// resolveTimestamp returns the first of timestamp and capturedAt that parses,
// or now when neither does.
func resolveTimestamp(timestamp, capturedAt string, now time.Time) time.Time {
	for _, value := range []string{timestamp, capturedAt} {
		if t, ok := parseTimestamp(value); ok {
			return t
		}
	}
	return now
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// HourID formats the UTC hour bucket for t, e.g. "2024042615".
func HourID(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format("2006010215")
}
