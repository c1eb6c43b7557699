// Package external provides clients for the services the notifier depends
// on: the user-activity API and the address geocoder.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/x42/offer-notifier/internal/geo"
)

const usersTimeout = 15 * time.Second

// ErrUserNotFound is returned when the user service has no record for an
// email address.
var ErrUserNotFound = errors.New("user not found")

// Profile is the user-activity record. The service merges favorites and the
// last known location into the same response.
type Profile struct {
	Active      bool     `json:"active"`
	Email       string   `json:"email,omitempty"`
	RUT         string   `json:"rut,omitempty"`
	Favorites   []string `json:"favorites"`
	FavoriteIDs []string `json:"favoriteIds,omitempty"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Location returns the user's coordinates when both are known.
func (p *Profile) Location() *geo.Point {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return nil
	}
	return &geo.Point{Lat: *p.Latitude, Lon: *p.Longitude}
}

// UserService looks users up by email on the user-activity API.
type UserService struct {
	baseURL    string
	httpClient *http.Client
}

// NewUserService creates a client for the API rooted at baseURL.
func NewUserService(baseURL string) *UserService {
	return &UserService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: usersTimeout},
	}
}

// Configured reports whether a base URL was provided.
func (s *UserService) Configured() bool { return s.baseURL != "" }

// GetByEmail fetches the profile stored for email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("user service URL not configured")
	}

	u := fmt.Sprintf("%s/user/email/%s", s.baseURL, url.PathEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", email, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrUserNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("user service returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", email, err)
	}
	return &p, nil
}
