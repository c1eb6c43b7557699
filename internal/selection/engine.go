// Package selection decides which single offer a user should be notified
// about.
//
// The policy has four branches, evaluated in order:
//
//   - no favorites: the offer closest to expiry across the whole catalog;
//   - favorites, no location: the favorite closest to expiry;
//   - favorites and location: the first favorite (catalog order) whose
//     geocoded address lies within the proximity radius, falling back to the
//     favorite closest to expiry when none is near.
//
// Geocoding failures never abort a selection; the affected favorite is
// skipped.
package selection

import (
	"context"
	"log/slog"
	"time"

	"github.com/x42/offer-notifier/internal/catalog"
	"github.com/x42/offer-notifier/internal/geo"
)

const (
	defaultRadiusKm      = 1.0
	defaultLookupTimeout = 10 * time.Second
)

// Branch identifies which part of the policy produced a selection.
type Branch int

const (
	// BranchCatalog selects across the whole catalog (user has no favorites).
	BranchCatalog Branch = iota
	// BranchFavorites selects among favorites by urgency (no location).
	BranchFavorites
	// BranchNearby scans favorites by proximity (favorites and location).
	BranchNearby
)

func (b Branch) String() string {
	switch b {
	case BranchCatalog:
		return "catalog"
	case BranchFavorites:
		return "favorites"
	case BranchNearby:
		return "nearby"
	default:
		return "unknown"
	}
}

// Geocoder resolves a street address to coordinates. A nil point with a nil
// error means the address was not found.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geo.Point, error)
}

// User is the per-pass view of a user needed by the engine.
type User struct {
	Favorites []string
	Location  *geo.Point
}

// HasFavorites reports whether the user marked any favorite.
func (u User) HasFavorites() bool { return len(u.Favorites) > 0 }

// HasLocation reports whether the user's coordinates are known.
func (u User) HasLocation() bool { return u.Location != nil }

// Result is the establishment chosen for a user.
type Result struct {
	Establishment catalog.Establishment
	Branch        Branch
	// WithinRadius is true only when a favorite was found near the user.
	WithinRadius bool
}

// Engine applies the selection policy. It holds no per-user state and is
// safe for concurrent use.
type Engine struct {
	geocoder      Geocoder
	radiusKm      float64
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithRadiusKm sets the proximity radius.
func WithRadiusKm(km float64) Option {
	return func(e *Engine) {
		if km > 0 {
			e.radiusKm = km
		}
	}
}

// WithLookupTimeout bounds each geocoding call.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookupTimeout = d
		}
	}
}

// NewEngine creates an engine that resolves addresses with geocoder.
func NewEngine(geocoder Geocoder, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		geocoder:      geocoder,
		radiusKm:      defaultRadiusKm,
		lookupTimeout: defaultLookupTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select picks at most one establishment for user. favorites must be the
// user's favorites as found in ix, in catalog order.
func (e *Engine) Select(ctx context.Context, user User, favorites []catalog.Establishment, ix *catalog.Index) (Result, bool) {
	switch {
	case !user.HasFavorites():
		est, ok := ix.NearestToExpire(ix.All())
		return Result{Establishment: est, Branch: BranchCatalog}, ok
	case !user.HasLocation():
		est, ok := ix.NearestToExpire(favorites)
		return Result{Establishment: est, Branch: BranchFavorites}, ok
	default:
		return e.selectNearby(ctx, *user.Location, favorites, ix)
	}
}

// selectNearby scans favorites sequentially; the first one within the radius
// wins, so the scan order decides between several near favorites.
func (e *Engine) selectNearby(ctx context.Context, at geo.Point, favorites []catalog.Establishment, ix *catalog.Index) (Result, bool) {
	var (
		fallback    catalog.Establishment
		fallbackEnd time.Time
		hasFallback bool
	)

	for _, fav := range favorites {
		if fav.Address == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		point := e.geocode(ctx, fav.Address)
		if point == nil {
			continue
		}

		if geo.WithinRadius(at, *point, e.radiusKm) {
			return Result{Establishment: fav, Branch: BranchNearby, WithinRadius: true}, true
		}

		if !ix.IsValid(fav) {
			continue
		}
		if end := ix.EndDate(fav); !hasFallback || end.Before(fallbackEnd) {
			fallback, fallbackEnd, hasFallback = fav, end, true
		}
	}

	if !hasFallback {
		est, ok := ix.NearestToExpire(favorites)
		if !ok {
			return Result{Branch: BranchNearby}, false
		}
		fallback, fallbackEnd = est, ix.EndDate(est)
	}

	tied := ix.SharingEndDate(favorites, fallbackEnd)
	if len(tied) == 0 {
		tied = []catalog.Establishment{fallback}
	}
	return Result{Establishment: ix.Pick(tied), Branch: BranchNearby}, true
}

func (e *Engine) geocode(ctx context.Context, address string) *geo.Point {
	if e.geocoder == nil {
		return nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	point, err := e.geocoder.Geocode(lookupCtx, address)
	if err != nil {
		e.logger.Warn("Geocoding failed, skipping favorite", "address", address, "error", err)
		return nil
	}
	if point == nil {
		e.logger.Debug("Address not found", "address", address)
	}
	return point
}
