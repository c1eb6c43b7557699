package selection_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x42/offer-notifier/internal/catalog"
	"github.com/x42/offer-notifier/internal/geo"
	"github.com/x42/offer-notifier/internal/selection"
)

var (
	today  = time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC)
	user   = geo.Point{Lat: 40.0, Lon: -8.0}
	near   = geo.Point{Lat: 40.0027, Lon: -8.0} // ~0.3 km
	far    = geo.Point{Lat: 40.045, Lon: -8.0}  // ~5 km
	quiet  = slog.New(slog.NewTextHandler(io.Discard, nil))
	errGeo = errors.New("geocoder unavailable")
)

type fakeGeocoder struct {
	mu     sync.Mutex
	points map[string]*geo.Point
	errs   map[string]error
	block  map[string]bool
	calls  []string
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (*geo.Point, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	f.mu.Unlock()

	if f.block[address] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[address]; err != nil {
		return nil, err
	}
	return f.points[address], nil
}

func offer(id, name, address, validity string) catalog.Establishment {
	return catalog.Establishment{
		ID:       catalog.ID(id),
		Name:     name,
		Discount: "15%",
		Address:  address,
		Validity: validity,
	}
}

// firstChooser makes random tie-breaks deterministic.
func firstChooser(int) int { return 0 }

func TestSelectNoFavoritesUsesWholeCatalog(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "A", "", "Hasta el 10/06/25"),
		offer("2", "B", "", "Hasta el 01/06/25"),
		offer("3", "C", "", "Hasta el 01/06/25"),
		offer("4", "D", "", "sin fecha"),
	}
	ix := catalog.NewIndex(all, today, catalog.WithChooser(firstChooser))
	engine := selection.NewEngine(&fakeGeocoder{}, quiet)

	// Location alone does not switch branches.
	got, ok := engine.Select(context.Background(), selection.User{Location: &user}, nil, ix)
	require.True(t, ok)

	want, _ := ix.NearestToExpire(all)
	assert.Equal(t, want, got.Establishment)
	assert.Equal(t, selection.BranchCatalog, got.Branch)
	assert.False(t, got.WithinRadius)
}

func TestSelectNoFavoritesTieIsRandomAmongNearest(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "First", "", "Hasta el 01/06/25"),
		offer("2", "Second", "", "25/05/25 al 01/06/25"),
		offer("3", "Third", "", "Hasta el 10/06/25"),
	}
	ix := catalog.NewIndex(all, today)
	engine := selection.NewEngine(nil, quiet)

	seen := map[string]int{}
	for i := 0; i < 1000; i++ {
		got, ok := engine.Select(context.Background(), selection.User{}, nil, ix)
		require.True(t, ok)
		seen[got.Establishment.Name]++
	}
	assert.Zero(t, seen["Third"])
	assert.Positive(t, seen["First"])
	assert.Positive(t, seen["Second"])
}

func TestSelectFavoritesWithoutLocation(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "A", "Rua A", "Hasta el 30/05/25"),
		offer("2", "B", "Rua B", "Hasta el 25/05/25"),
		offer("3", "Other", "", "Hasta el 21/05/25"),
	}
	ix := catalog.NewIndex(all, today, catalog.WithChooser(firstChooser))
	geocoder := &fakeGeocoder{}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"A", "B"}}
	favs := ix.FilterByNames(u.Favorites)
	got, ok := engine.Select(context.Background(), u, favs, ix)
	require.True(t, ok)

	want, _ := ix.NearestToExpire(favs)
	assert.Equal(t, want, got.Establishment)
	assert.Equal(t, "B", got.Establishment.Name)
	assert.Equal(t, selection.BranchFavorites, got.Branch)
	assert.Empty(t, geocoder.calls, "no geocoding without a user location")
}

func TestSelectFavoritesNotInCatalog(t *testing.T) {
	all := []catalog.Establishment{offer("1", "A", "", "Hasta el 30/05/25")}
	ix := catalog.NewIndex(all, today)
	engine := selection.NewEngine(&fakeGeocoder{}, quiet)

	u := selection.User{Favorites: []string{"Gone"}}
	_, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	assert.False(t, ok)

	u.Location = &user
	_, ok = engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	assert.False(t, ok)
}

func TestSelectNearbyFirstWithinRadiusWins(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "CaféX", "Rua do Café 1", "Hasta el 30/06/25"),
		offer("2", "TiendaY", "Avenida Y 200", "Hasta el 21/05/25"),
	}
	ix := catalog.NewIndex(all, today)
	geocoder := &fakeGeocoder{points: map[string]*geo.Point{
		"Rua do Café 1": &near,
		"Avenida Y 200": &far,
	}}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"CaféX", "TiendaY"}, Location: &user}
	got, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	require.True(t, ok)

	assert.Equal(t, "CaféX", got.Establishment.Name)
	assert.Equal(t, selection.BranchNearby, got.Branch)
	assert.True(t, got.WithinRadius)
	assert.Equal(t, []string{"Rua do Café 1"}, geocoder.calls, "scan stops at the first match")
}

func TestSelectNearbyOnlyMatchRegardlessOfExpiry(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "Soon", "far 1", "Hasta el 21/05/25"),
		offer("2", "Sooner", "far 2", "Hasta el 20/05/25"),
		offer("3", "Close", "near", "Hasta el 31 de diciembre de 2025"),
	}
	ix := catalog.NewIndex(all, today)
	geocoder := &fakeGeocoder{points: map[string]*geo.Point{
		"far 1": &far,
		"far 2": &far,
		"near":  &near,
	}}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"Soon", "Sooner", "Close"}, Location: &user}
	got, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	require.True(t, ok)
	assert.Equal(t, "Close", got.Establishment.Name)
	assert.True(t, got.WithinRadius)
}

func TestSelectNearbyFallsBackToSoonestVisited(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "Late", "far 1", "Hasta el 30/06/25"),
		offer("2", "Early", "far 2", "Hasta el 25/05/25"),
		offer("3", "Expired", "far 3", "Hasta el 10/05/25"),
	}
	ix := catalog.NewIndex(all, today, catalog.WithChooser(firstChooser))
	geocoder := &fakeGeocoder{points: map[string]*geo.Point{
		"far 1": &far, "far 2": &far, "far 3": &far,
	}}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"Late", "Early", "Expired"}, Location: &user}
	got, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	require.True(t, ok)
	assert.Equal(t, "Early", got.Establishment.Name)
	assert.Equal(t, selection.BranchNearby, got.Branch)
	assert.False(t, got.WithinRadius)
	assert.Len(t, geocoder.calls, 3)
}

func TestSelectNearbyFallbackTieIncludesUnvisitedFavorites(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "Visited", "far", "Hasta el 25/05/25"),
		offer("2", "NoAddress", "", "Hasta el 25 de mayo de 2025"),
		offer("3", "Later", "far", "Hasta el 30/05/25"),
	}
	ix := catalog.NewIndex(all, today)
	geocoder := &fakeGeocoder{points: map[string]*geo.Point{"far": &far}}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"Visited", "NoAddress", "Later"}, Location: &user}
	favs := ix.FilterByNames(u.Favorites)

	seen := map[string]int{}
	for i := 0; i < 500; i++ {
		got, ok := engine.Select(context.Background(), u, favs, ix)
		require.True(t, ok)
		seen[got.Establishment.Name]++
	}
	assert.Positive(t, seen["Visited"])
	assert.Positive(t, seen["NoAddress"])
	assert.Zero(t, seen["Later"])
}

func TestSelectNearbyWithoutUsableAddresses(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "NoAddress", "", "Hasta el 30/05/25"),
		offer("2", "Unknown", "nowhere", "Hasta el 28/05/25"),
		offer("3", "Broken", "error", "Hasta el 29/05/25"),
	}
	ix := catalog.NewIndex(all, today, catalog.WithChooser(firstChooser))
	geocoder := &fakeGeocoder{errs: map[string]error{"error": errGeo}}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"NoAddress", "Unknown", "Broken"}, Location: &user}
	favs := ix.FilterByNames(u.Favorites)
	got, ok := engine.Select(context.Background(), u, favs, ix)
	require.True(t, ok)

	want, _ := ix.NearestToExpire(favs)
	assert.Equal(t, want, got.Establishment)
	assert.Equal(t, "Unknown", got.Establishment.Name)
	assert.Equal(t, selection.BranchNearby, got.Branch)
	assert.Equal(t, []string{"nowhere", "error"}, geocoder.calls, "entries without address are never geocoded")
}

func TestSelectNearbyLookupTimeoutSkipsCandidate(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "Slow", "slow", "Hasta el 22/05/25"),
		offer("2", "Near", "near", "Hasta el 30/05/25"),
	}
	ix := catalog.NewIndex(all, today)
	geocoder := &fakeGeocoder{
		block:  map[string]bool{"slow": true},
		points: map[string]*geo.Point{"near": &near},
	}
	engine := selection.NewEngine(geocoder, quiet, selection.WithLookupTimeout(20*time.Millisecond))

	u := selection.User{Favorites: []string{"Slow", "Near"}, Location: &user}
	got, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	require.True(t, ok)
	assert.Equal(t, "Near", got.Establishment.Name)
	assert.True(t, got.WithinRadius)
}

func TestSelectNearbyCustomRadius(t *testing.T) {
	all := []catalog.Establishment{offer("1", "A", "far", "Hasta el 30/05/25")}
	ix := catalog.NewIndex(all, today)
	geocoder := &fakeGeocoder{points: map[string]*geo.Point{"far": &far}}
	engine := selection.NewEngine(geocoder, quiet, selection.WithRadiusKm(10))

	u := selection.User{Favorites: []string{"A"}, Location: &user}
	got, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	require.True(t, ok)
	assert.True(t, got.WithinRadius)
}

func TestSelectNearbyAllExpired(t *testing.T) {
	all := []catalog.Establishment{
		offer("1", "Old", "far", "Hasta el 01/05/25"),
		offer("2", "Older", "", "Hasta el 01/04/25"),
	}
	ix := catalog.NewIndex(all, today)
	geocoder := &fakeGeocoder{points: map[string]*geo.Point{"far": &far}}
	engine := selection.NewEngine(geocoder, quiet)

	u := selection.User{Favorites: []string{"Old", "Older"}, Location: &user}
	_, ok := engine.Select(context.Background(), u, ix.FilterByNames(u.Favorites), ix)
	assert.False(t, ok)
}

func TestBranchString(t *testing.T) {
	assert.Equal(t, "catalog", selection.BranchCatalog.String())
	assert.Equal(t, "favorites", selection.BranchFavorites.String())
	assert.Equal(t, "nearby", selection.BranchNearby.String())
	assert.Equal(t, "unknown", selection.Branch(42).String())
}
