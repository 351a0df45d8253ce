package domain

import (
	"errors"
	"sort"
	"time"
)

// ErrScenarioNotFound is returned for an unknown simulation scenario name.
var ErrScenarioNotFound = errors.New("simulation scenario not found")

// simulatedHours is how many hourly readings a simulation synthesizes: the
// current hour plus six hours back, enough to exercise heatwave persistence.
const simulatedHours = 7

// scenarios are canned readings used to exercise the alert path end to end.
var scenarios = map[string]Observation{
	"normal":     {TemperatureC: 28, WindSpeedKmh: 12, RainMmPerHour: 0, CloudCoverPercent: 40, HumidityPercent: 60},
	"flood":      {TemperatureC: 26, WindSpeedKmh: 35, RainMmPerHour: 65, CloudCoverPercent: 100, HumidityPercent: 95},
	"cyclone":    {TemperatureC: 27, WindSpeedKmh: 120, RainMmPerHour: 30, CloudCoverPercent: 100, HumidityPercent: 90},
	"heatwave":   {TemperatureC: 45, WindSpeedKmh: 10, RainMmPerHour: 0, CloudCoverPercent: 5, HumidityPercent: 20},
	"heavy_rain": {TemperatureC: 25, WindSpeedKmh: 20, RainMmPerHour: 20, CloudCoverPercent: 95, HumidityPercent: 92},
}

// Scenarios lists the built-in simulation scenario names.
func Scenarios() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SimulatedHistory returns hourly copies of the named scenario reading, newest
// first, starting at now.
func SimulatedHistory(name string, now time.Time) (ObservationHistory, error) {
	reading, ok := scenarios[name]
	if !ok {
		return nil, ErrScenarioNotFound
	}

	history := make(ObservationHistory, simulatedHours)
	for i := range history {
		obs := reading
		obs.ObservedAt = now.Add(-time.Duration(i) * time.Hour)
		history[i] = obs
	}
	return history, nil
}
