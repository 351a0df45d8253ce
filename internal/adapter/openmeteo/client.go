// Package openmeteo implements domain.WeatherSource and domain.Geocoder on the
// free Open-Meteo forecast and geocoding APIs.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/httpclient"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

const (
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

	currentFields = "temperature_2m,relative_humidity_2m,rain,wind_speed_10m,cloud_cover"
)

// Config holds the endpoints and request budget for the Open-Meteo client.
type Config struct {
	ForecastURL  string
	GeocodingURL string
	Timeout      time.Duration
	// RateLimit is the maximum requests per second across both APIs.
	RateLimit float64
}

// Client calls the Open-Meteo APIs through a shared rate limiter and circuit breaker.
type Client struct {
	httpClient   *httpclient.Client
	limiter      *rate.Limiter
	forecastURL  string
	geocodingURL string
	clock        clockwork.Clock
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates an Open-Meteo client. Empty URLs fall back to the public endpoints.
func NewClient(cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.GeocodingURL == "" {
		cfg.GeocodingURL = DefaultGeocodingURL
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		httpClient:   httpclient.New("open-meteo", cfg.Timeout, httpclient.WithUserAgent("disaster-alert-service")),
		limiter:      rate.NewLimiter(limit, 1),
		forecastURL:  cfg.ForecastURL,
		geocodingURL: cfg.GeocodingURL,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
	}
}

// CurrentWeather returns the current reading at the given coordinates, stamped
// with the time it was fetched.
func (c *Client) CurrentWeather(ctx context.Context, at domain.Coordinates) (domain.Observation, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(at.Lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(at.Lon, 'f', -1, 64)},
		"current":   {currentFields},
	}

	var resp forecastResponse
	if err := c.get(ctx, "forecast", c.forecastURL+"?"+params.Encode(), &resp); err != nil {
		return domain.Observation{}, err
	}
	if resp.Current == nil {
		return domain.Observation{}, fmt.Errorf("forecast response has no current block")
	}

	cur := resp.Current
	obs := domain.Observation{
		TemperatureC:      cur.Temperature,
		WindSpeedKmh:      cur.WindSpeed,
		CloudCoverPercent: int(cur.CloudCover),
		HumidityPercent:   int(cur.Humidity),
		ObservedAt:        c.clock.Now().UTC(),
	}
	if cur.Rain != nil {
		obs.RainMmPerHour = *cur.Rain
	}
	return obs, nil
}

// Geocode resolves a place name to the coordinates of the best match.
func (c *Client) Geocode(ctx context.Context, name string) (domain.Coordinates, error) {
	params := url.Values{
		"name":     {name},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}

	var resp geocodingResponse
	if err := c.get(ctx, "geocode", c.geocodingURL+"?"+params.Encode(), &resp); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.Coordinates{}, err
	}
	if len(resp.Results) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues("not_found").Inc()
		return domain.Coordinates{}, fmt.Errorf("geocode %q: %w", name, domain.ErrLocationNotFound)
	}

	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	r := resp.Results[0]
	c.logger.Debug("geocoded location", "location", name, "match", r.Name, "country", r.Country, "lat", r.Latitude, "lon", r.Longitude)
	return domain.Coordinates{Lat: r.Latitude, Lon: r.Longitude}, nil
}

func (c *Client) get(ctx context.Context, api, fullURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(api).Observe(c.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s request: %w", api, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("open-meteo %s error: status %d: %s", api, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", api, err)
	}
	return nil
}

// Open-Meteo API response types.

type forecastResponse struct {
	Current *current `json:"current"`
}

type current struct {
	Temperature float64  `json:"temperature_2m"`
	Humidity    float64  `json:"relative_humidity_2m"`
	Rain        *float64 `json:"rain"`
	WindSpeed   float64  `json:"wind_speed_10m"`
	CloudCover  float64  `json:"cloud_cover"`
}

type geocodingResponse struct {
	Results []place `json:"results"`
}

type place struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
}
