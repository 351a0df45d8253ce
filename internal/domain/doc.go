// Package domain models weather observations and the disaster-risk evaluation
// derived from them.
//
// # Observations
//
// An [Observation] is one reading for a location: temperature (°C), wind speed
// (km/h), rain rate (mm/h), cloud cover and humidity (percent, informational
// only), and the time the reading is valid for. Histories are stored in hourly
// buckets ("2006010215" in UTC, see [HourID]) and handed to the evaluator newest
// first as an [ObservationHistory].
//
// Records arriving from collectors or legacy snapshots are loosely typed.
// [ParseObservation] resolves them once at the boundary:
//
//	"timestamp" wins over "captured_at"; an unparseable one is skipped
//	neither parses -> now
//	missing, null, or non-numeric values -> 0
//	cloud cover and humidity clamp to [0, 100]
//
// # Risk Evaluation
//
// [Evaluate] is a pure function of (history, now). Checks run in priority
// order and the first match wins:
//
//	Heatwave:   latest temp > 40°C. Persistence is the span of the unbroken
//	            run of >40°C readings ending at the latest one.
//	            >= 6h HIGH, otherwise MEDIUM.
//	Cyclone:    latest wind > 70 km/h                     HIGH
//	Flood:      latest rain > 50 mm/h                     HIGH
//	Heavy rain: rain summed over the 3 newest readings > 50 mm   MEDIUM
//	Otherwise:  LOW / NONE
//
// An empty history is UNKNOWN / NONE with zero confidence.
//
// Intensity hazards (cyclone, flood) are judged on the latest reading alone.
// Heat is only dangerous when sustained, hence the persistence scan.
//
// # Confidence
//
// Confidence decays linearly with the age of the latest reading:
//
//	confidence = clamp(1 - age_hours/6, 0, 1)
//
// so a reading taken now scores 1.0, a 3h old one 0.5, and anything 6h or
// older 0.0. Confidence and persistence are reported to two decimals.
package domain
