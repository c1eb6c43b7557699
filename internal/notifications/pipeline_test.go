package notifications_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/x42/offer-notifier/internal/catalog"
	"github.com/x42/offer-notifier/internal/devices"
	"github.com/x42/offer-notifier/internal/devices/devicesmock"
	"github.com/x42/offer-notifier/internal/external"
	"github.com/x42/offer-notifier/internal/geo"
	"github.com/x42/offer-notifier/internal/notifications"
	"github.com/x42/offer-notifier/internal/selection"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var today = time.Date(2026, time.October, 18, 19, 0, 0, 0, time.UTC)

var (
	augusta = geo.Point{Lat: 38.7101, Lon: -9.1368}
	porto   = geo.Point{Lat: 41.1496, Lon: -8.6109}
)

type staticSource struct {
	list []catalog.Establishment
	err  error
}

func (s staticSource) Load(context.Context) ([]catalog.Establishment, error) { return s.list, s.err }

type fakeUsers struct {
	profiles map[string]*external.Profile
	errs     map[string]error
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*external.Profile, error) {
	if err, ok := f.errs[email]; ok {
		return nil, err
	}
	if p, ok := f.profiles[email]; ok {
		return p, nil
	}
	return nil, external.ErrUserNotFound
}

type fakeGeocoder map[string]geo.Point

func (f fakeGeocoder) Geocode(_ context.Context, address string) (*geo.Point, error) {
	if p, ok := f[address]; ok {
		return &p, nil
	}
	return nil, nil
}

type recordingSender struct {
	mu      sync.Mutex
	sent    []notifications.Message
	failFor map[string]bool
	err     error
}

func (s *recordingSender) Send(_ context.Context, msgs []notifications.Message) ([]notifications.Ticket, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msgs...)
	tickets := make([]notifications.Ticket, len(msgs))
	for i, m := range msgs {
		if s.failFor[m.To] {
			tickets[i] = notifications.Ticket{Status: "error", Message: "gone", Details: &notifications.TicketDetails{Error: "DeviceNotRegistered"}}
			continue
		}
		tickets[i] = notifications.Ticket{Status: "ok", ID: "ticket-" + m.To}
	}
	return tickets, nil
}

func floatPtr(f float64) *float64 { return &f }

func offers() []catalog.Establishment {
	return []catalog.Establishment{
		{ID: "1", Name: "CaféX", Discount: "10%", Address: "Rua Augusta 1", Validity: "hasta el 25 de octubre de 2026"},
		{ID: "2", Name: "TiendaY", Discount: "20%", Address: "Rua do Porto 9", Validity: "hasta el 20 de octubre de 2026"},
		{ID: "3", Name: "Bar Z", Discount: "5%", Validity: "todo el año"},
	}
}

func token(name string) string { return "ExponentPushToken[" + name + "]" }

func newPipeline(t *testing.T, regs []devices.Registration, users fakeUsers, sender notifications.Sender) *notifications.Pipeline {
	t.Helper()
	ctrl := gomock.NewController(t)
	registry := devicesmock.NewMockRegistry(ctrl)
	registry.EXPECT().FindAll(gomock.Any()).Return(regs, nil).AnyTimes()

	engine := selection.NewEngine(fakeGeocoder{"Rua Augusta 1": augusta, "Rua do Porto 9": porto}, quiet)
	return notifications.NewPipeline(
		staticSource{list: offers()}, registry, users, engine, sender, quiet,
		notifications.WithClock(func() time.Time { return today }),
		notifications.WithWorkers(3),
	)
}

func TestPipelineRun(t *testing.T) {
	regs := []devices.Registration{
		{Token: token("anon"), Email: "anon@example.com"},
		{Token: token("fav"), Email: "fav@example.com"},
		{Token: token("near"), Email: "near@example.com"},
		{Token: token("idle"), Email: "idle@example.com"},
		{Token: token("down"), Email: "down@example.com"},
		{Token: "garbage", Email: "bad@example.com"},
		{Token: token("ghost"), Email: "ghost@example.com"},
		{Token: token("ids"), Email: "ids@example.com"},
	}
	users := fakeUsers{
		profiles: map[string]*external.Profile{
			"anon@example.com": {Active: true},
			"fav@example.com":  {Active: true, Favorites: []string{"CaféX", "Bar Z"}},
			"near@example.com": {
				Active: true, Favorites: []string{"TiendaY", "CaféX"},
				Latitude: floatPtr(augusta.Lat), Longitude: floatPtr(augusta.Lon),
			},
			"idle@example.com": {Active: false, Favorites: []string{"CaféX"}},
			"ids@example.com":  {Active: true, FavoriteIDs: []string{"3"}},
		},
		errs: map[string]error{"down@example.com": errors.New("connection reset")},
	}
	sender := &recordingSender{failFor: map[string]bool{token("fav"): true}}

	result, err := newPipeline(t, regs, users, sender).Run(context.Background())
	require.NoError(t, err)

	want := []notifications.Message{
		{To: token("anon"), Sound: "default", Title: "📢 ¡Descuento especial!",
			Body: "TiendaY tiene un descuento especial: 20%.", Data: map[string]string{"id": "2"}},
		{To: token("fav"), Sound: "default", Title: "📢 ¡Descuento especial!",
			Body: "CaféX tiene un descuento especial: 10%.", Data: map[string]string{"id": "1"}},
		{To: token("near"), Sound: "default", Title: "📢 ¡Descuento especial!",
			Body: "¡Estás cerca de CaféX! Aprovecha el descuento de 10%.", Data: map[string]string{"id": "1"}},
		{To: token("ids"), Sound: "default", Title: "📢 ¡Descuento especial!",
			Body: "Bar Z tiene un descuento especial: 5%.", Data: map[string]string{"id": "3"}},
	}
	if diff := cmp.Diff(want, sender.sent); diff != "" {
		t.Errorf("sent messages mismatch (-want +got):\n%s", diff)
	}

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 8, result.Registrations)
	assert.Equal(t, 1, result.InvalidTokens)
	assert.Equal(t, 3, result.SkippedUsers)
	assert.Equal(t, 0, result.NoSelection)
	assert.Equal(t, 4, result.Composed)
	assert.Equal(t, 3, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "down@example.com")
	assert.Contains(t, result.Summary(), "composed=4 sent=3 failed=1")
}

func TestPipelineRunNoSelection(t *testing.T) {
	regs := []devices.Registration{{Token: token("a"), Email: "a@example.com"}}
	users := fakeUsers{profiles: map[string]*external.Profile{
		"a@example.com": {Active: true, Favorites: []string{"Closed Shop"}},
	}}
	sender := &recordingSender{}

	result, err := newPipeline(t, regs, users, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NoSelection)
	assert.Empty(t, sender.sent)
}

func TestPipelineRunNoRegistrations(t *testing.T) {
	sender := &recordingSender{}
	result, err := newPipeline(t, nil, fakeUsers{}, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Registrations)
	assert.Empty(t, sender.sent)
}

func TestPipelineRunTransportFailure(t *testing.T) {
	regs := []devices.Registration{{Token: token("a"), Email: "a@example.com"}}
	users := fakeUsers{profiles: map[string]*external.Profile{"a@example.com": {Active: true}}}
	boom := errors.New("expo unavailable")

	result, err := newPipeline(t, regs, users, &recordingSender{err: boom}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, result.Composed)
	assert.Zero(t, result.Sent)
}

func TestPipelineRunAbortsOnLoadFailures(t *testing.T) {
	t.Run("catalog", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		registry := devicesmock.NewMockRegistry(ctrl)
		p := notifications.NewPipeline(
			staticSource{err: errors.New("missing file")}, registry, fakeUsers{},
			selection.NewEngine(nil, quiet), &recordingSender{}, quiet,
		)
		_, err := p.Run(context.Background())
		assert.ErrorContains(t, err, "load catalog")
	})

	t.Run("registry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		registry := devicesmock.NewMockRegistry(ctrl)
		registry.EXPECT().FindAll(gomock.Any()).Return(nil, errors.New("db down"))
		p := notifications.NewPipeline(
			staticSource{list: offers()}, registry, fakeUsers{},
			selection.NewEngine(nil, quiet), &recordingSender{}, quiet,
		)
		_, err := p.Run(context.Background())
		assert.ErrorContains(t, err, "load registrations")
	})
}

func TestPipelineRunIsRepeatable(t *testing.T) {
	regs := []devices.Registration{{Token: token("a"), Email: "a@example.com"}}
	users := fakeUsers{profiles: map[string]*external.Profile{"a@example.com": {Active: true}}}
	sender := &recordingSender{}
	p := newPipeline(t, regs, users, sender)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, sender.sent[0], sender.sent[1])
}

func TestBroadcast(t *testing.T) {
	regs := []devices.Registration{
		{Token: token("a"), Email: "a@example.com"},
		{Token: "not-a-token", Email: "b@example.com"},
		{Token: "a1b2c3d4-e5f6-a7b8-c9d0-e1f2a3b4c5d6", Email: "c@example.com"},
	}
	sender := &recordingSender{}

	tickets, err := newPipeline(t, regs, fakeUsers{}, sender).Broadcast(context.Background())
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	require.Len(t, sender.sent, 2)
	for _, m := range sender.sent {
		assert.Equal(t, "🧨 Oferta Expirando!", m.Title)
		assert.Equal(t, "Corre que é só até hoje!", m.Body)
		assert.Equal(t, map[string]string{"withSome": "data"}, m.Data)
	}
	assert.Equal(t, token("a"), sender.sent[0].To)
}

func TestPreview(t *testing.T) {
	users := fakeUsers{profiles: map[string]*external.Profile{
		"near@example.com": {
			Active: true, Favorites: []string{"TiendaY"},
			Latitude: floatPtr(porto.Lat), Longitude: floatPtr(porto.Lon),
		},
		"idle@example.com": {Active: false},
	}}
	sender := &recordingSender{}
	p := newPipeline(t, nil, users, sender)

	msg, ok, err := p.Preview(context.Background(), "near@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "¡Estás cerca de TiendaY! Aprovecha el descuento de 20%.", msg.Body)
	id, _ := notifications.EstablishmentID(msg)
	assert.Equal(t, "2", id)

	_, ok, err = p.Preview(context.Background(), "idle@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.Preview(context.Background(), "unknown@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, sender.sent)
}
