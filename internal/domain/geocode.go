package domain

import (
	"context"
	"log/slog"
)

// ResolveCoordinates prefers coordinates already stored for the location and
// only calls the geocoder when none are known.
func ResolveCoordinates(ctx context.Context, name string, stored *Coordinates, geocoder Geocoder, logger *slog.Logger) (Coordinates, error) {
	if stored != nil {
		logger.Debug("using stored coordinates", "location", name, "lat", stored.Lat, "lon", stored.Lon)
		return *stored, nil
	}

	coords, err := geocoder.Geocode(ctx, name)
	if err != nil {
		logger.Warn("geocoding failed", "location", name, "error", err)
		return Coordinates{}, err
	}
	return coords, nil
}
