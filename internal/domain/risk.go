package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Classification thresholds.
const (
	FloodRainThreshold       = 50.0 // mm/hour
	CycloneWindThreshold     = 70.0 // km/h
	HeatwaveTempThreshold    = 40.0 // °C
	HeatwavePersistenceHours = 6.0
	ConfidenceDecayHours     = 6.0

	// heavyRainWindow is the number of newest observations summed for the
	// heavy-rain early warning. History is bucketed hourly, so this is ~3h.
	heavyRainWindow = 3
)

const (
	reasonNoData = "No historical data available for assessment."
	reasonNormal = "Weather conditions are within normal safety limits."
)

// RiskLevel grades the severity of an assessment.
type RiskLevel string

const (
	RiskUnknown RiskLevel = "UNKNOWN"
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
)

// DisasterType is the classified hazard category.
type DisasterType string

const (
	DisasterNone      DisasterType = "NONE"
	DisasterHeatwave  DisasterType = "HEATWAVE"
	DisasterCyclone   DisasterType = "CYCLONE"
	DisasterFlood     DisasterType = "FLOOD"
	DisasterHeavyRain DisasterType = "HEAVY_RAIN"
)

// RiskAssessment is the verdict for one location's history.
type RiskAssessment struct {
	RiskLevel                RiskLevel    `json:"risk_level"`
	DisasterType             DisasterType `json:"disaster_type"`
	Reason                   string       `json:"reason"`
	PersistenceDurationHours float64      `json:"persistence_duration_hrs"`
	ConfidenceScore          float64      `json:"confidence_score"`
	EvaluatedAt              time.Time    `json:"timestamp"`
}

// IsHigh reports whether the assessment should trigger notifications.
func (a RiskAssessment) IsHigh() bool {
	return a.RiskLevel == RiskHigh
}

// EvaluateNow evaluates history against the package clock.
func EvaluateNow(history ObservationHistory) RiskAssessment {
	return Evaluate(history, clock.Now())
}

// Evaluate classifies a newest-first observation history. It never fails and
// never mutates history. Checks run in priority order and the first match wins:
// heatwave (with persistence), cyclone, flood, heavy rain, then normal.
func Evaluate(history ObservationHistory, now time.Time) RiskAssessment {
	latest, ok := history.Latest()
	if !ok {
		return RiskAssessment{
			RiskLevel:    RiskUnknown,
			DisasterType: DisasterNone,
			Reason:       reasonNoData,
			EvaluatedAt:  now,
		}
	}

	a := RiskAssessment{
		RiskLevel:       RiskLow,
		DisasterType:    DisasterNone,
		Reason:          reasonNormal,
		ConfidenceScore: round2(confidence(latest.ObservedAt, now)),
		EvaluatedAt:     now,
	}

	switch {
	case latest.TemperatureC > HeatwaveTempThreshold:
		hours := heatwavePersistence(history)
		a.DisasterType = DisasterHeatwave
		a.PersistenceDurationHours = round2(hours)
		if hours >= HeatwavePersistenceHours {
			a.RiskLevel = RiskHigh
			a.Reason = fmt.Sprintf("CRITICAL: Temperature has been above %s°C for %.1f continuous hours.",
				formatReading(HeatwaveTempThreshold), hours)
		} else {
			a.RiskLevel = RiskMedium
			a.Reason = fmt.Sprintf("WARNING: High temperature detected (%s°C). Monitoring for persistence.",
				formatReading(latest.TemperatureC))
		}

	case latest.WindSpeedKmh > CycloneWindThreshold:
		a.RiskLevel = RiskHigh
		a.DisasterType = DisasterCyclone
		a.Reason = fmt.Sprintf("ALERT: Extreme wind speeds (%s km/h) detected, above the %s km/h threshold. Immediate danger.",
			formatReading(latest.WindSpeedKmh), formatReading(CycloneWindThreshold))

	case latest.RainMmPerHour > FloodRainThreshold:
		a.RiskLevel = RiskHigh
		a.DisasterType = DisasterFlood
		a.Reason = fmt.Sprintf("ALERT: Heavy rainfall (%s mm/h, threshold %s mm/h) indicates immediate flash flood risk.",
			formatReading(latest.RainMmPerHour), formatReading(FloodRainThreshold))

	default:
		if total := rainTotal(history, heavyRainWindow); total > FloodRainThreshold {
			a.RiskLevel = RiskMedium
			a.DisasterType = DisasterHeavyRain
			a.Reason = fmt.Sprintf("Sustained heavy rain (%.1fmm over 3h, threshold %s mm). Risk of flooding is increasing.",
				total, formatReading(FloodRainThreshold))
		}
	}

	return a
}

// confidence decays linearly from 1.0 for a reading taken now to 0.0 once the
// reading is ConfidenceDecayHours old.
func confidence(observedAt, now time.Time) float64 {
	gap := now.Sub(observedAt).Hours()
	return clamp(1.0-gap/ConfidenceDecayHours, 0, 1)
}

// heatwavePersistence walks the newest-first history while readings stay above
// the heatwave threshold and returns the span between the newest reading and
// the oldest reading of that unbroken run.
func heatwavePersistence(history ObservationHistory) float64 {
	latest := history[0]
	start := latest.ObservedAt
	for _, o := range history {
		if o.TemperatureC <= HeatwaveTempThreshold {
			break
		}
		start = o.ObservedAt
	}
	return math.Max(0, latest.ObservedAt.Sub(start).Hours())
}

func rainTotal(history ObservationHistory, n int) float64 {
	if len(history) < n {
		n = len(history)
	}
	var total float64
	for _, o := range history[:n] {
		total += o.RainMmPerHour
	}
	return total
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatReading prints whole numbers with one decimal ("40.0") and keeps the
// precision of fractional readings ("41.25").
func formatReading(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
