package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/x42/offer-notifier/internal/cache"
	"github.com/x42/offer-notifier/internal/geo"
)

const (
	DefaultGeocoderURL       = "https://nominatim.openstreetmap.org/search"
	DefaultGeocoderUserAgent = "x42-f222w"
	geocoderTimeout          = 15 * time.Second
)

// Geocoder resolves street addresses through a Nominatim-compatible search
// endpoint. Requests are throttled by a shared token bucket since the public
// instance rejects clients exceeding one request per second.
type Geocoder struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	cache      *cache.Cache[*geo.Point]
	logger     *slog.Logger
}

// NewGeocoder creates a geocoder. requestsPerSecond <= 0 disables throttling;
// c may be nil to disable caching.
func NewGeocoder(baseURL, userAgent string, requestsPerSecond float64, c *cache.Cache[*geo.Point], logger *slog.Logger) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultGeocoderURL
	}
	if userAgent == "" {
		userAgent = DefaultGeocoderUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Geocoder{
		httpClient: &http.Client{Timeout: geocoderTimeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(limit, 1),
		cache:      c,
		logger:     logger,
	}
}

// nominatimResult is the subset of a Nominatim search hit we use.
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the coordinates of the first search hit for address, or
// nil when the address is unknown.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*geo.Point, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" {
		return nil, nil
	}
	if p, ok := g.cache.Get(key); ok {
		return p, nil
	}

	p, err := g.search(ctx, address)
	if err != nil {
		return nil, err
	}
	if p == nil {
		g.logger.Warn("Address not found", "address", address)
		g.cache.Set(key, nil, cache.TTLGeocodeMiss)
		return nil, nil
	}
	g.cache.Set(key, p, cache.TTLGeocodeHit)
	return p, nil
}

func (g *Geocoder) search(ctx context.Context, address string) (*geo.Point, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", results[0].Lon, err)
	}
	return &geo.Point{Lat: lat, Lon: lon}, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
