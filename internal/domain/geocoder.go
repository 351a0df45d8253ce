package domain

import (
	"context"
	"errors"
)

var (
	// ErrLocationNotFound is returned when a place name cannot be geocoded.
	ErrLocationNotFound = errors.New("location not found")

	// ErrWeatherUnavailable is returned when neither the weather source nor the
	// stored snapshot can provide a reading.
	ErrWeatherUnavailable = errors.New("weather unavailable")
)

// Geocoder resolves place names to coordinates.
type Geocoder interface {
	// Geocode returns ErrLocationNotFound when the provider has no match.
	Geocode(ctx context.Context, name string) (Coordinates, error)
}

// WeatherSource fetches the current reading for a coordinate.
type WeatherSource interface {
	CurrentWeather(ctx context.Context, at Coordinates) (Observation, error)
}
