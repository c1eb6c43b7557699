package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/x42/offer-notifier/internal/catalog"
	"github.com/x42/offer-notifier/internal/devices"
	"github.com/x42/offer-notifier/internal/external"
	"github.com/x42/offer-notifier/internal/selection"
)

// UserDirectory resolves a registered email to its user profile.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*external.Profile, error)
}

// Pipeline runs notification passes. It keeps no state between passes, so
// repeated runs re-resolve every registration from scratch.
type Pipeline struct {
	source        catalog.Source
	registry      devices.Registry
	users         UserDirectory
	engine        *selection.Engine
	sender        Sender
	workers       int
	lookupTimeout time.Duration
	now           func() time.Time
	indexOpts     []catalog.Option
	logger        *slog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets how many registrations are resolved concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLookupTimeout bounds each user-service call.
func WithLookupTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.lookupTimeout = d
		}
	}
}

// WithClock sets the time source. Its location decides the calendar day
// offers are evaluated against.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIndexOptions passes options to the catalog index built each pass.
func WithIndexOptions(opts ...catalog.Option) Option {
	return func(p *Pipeline) { p.indexOpts = append(p.indexOpts, opts...) }
}

// NewPipeline wires the collaborators of a notification pass.
func NewPipeline(
	source catalog.Source,
	registry devices.Registry,
	users UserDirectory,
	engine *selection.Engine,
	sender Sender,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		source:        source,
		registry:      registry,
		users:         users,
		engine:        engine,
		sender:        sender,
		workers:       defaultWorkers,
		lookupTimeout: defaultLookupTimeout,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PassResult tracks the outcome of one notification pass.
type PassResult struct {
	RunID         string        `json:"run_id"`
	Registrations int           `json:"registrations"`
	InvalidTokens int           `json:"invalid_tokens"`
	SkippedUsers  int           `json:"skipped_users"`
	NoSelection   int           `json:"no_selection"`
	Composed      int           `json:"composed"`
	Sent          int           `json:"sent"`
	Failed        int           `json:"failed"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

// Summary returns a human-readable summary of the pass.
func (r *PassResult) Summary() string {
	return fmt.Sprintf(
		"registrations=%d invalid_tokens=%d skipped=%d no_selection=%d composed=%d sent=%d failed=%d errors=%d duration=%s",
		r.Registrations, r.InvalidTokens, r.SkippedUsers, r.NoSelection,
		r.Composed, r.Sent, r.Failed, len(r.Errors), r.Duration.Round(time.Millisecond),
	)
}

// outcome is what resolving one registration produced.
type outcome int

const (
	outcomeComposed outcome = iota
	outcomeInvalidToken
	outcomeSkipped
	outcomeNoSelection
)

// Run executes one notification pass. Catalog, registry and transport
// failures abort the pass and are returned; per-user failures are counted
// and logged.
func (p *Pipeline) Run(ctx context.Context) (PassResult, error) {
	start := time.Now()
	result := PassResult{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", result.RunID)

	all, err := p.source.Load(ctx)
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("load catalog: %w", err)
	}
	ix := catalog.NewIndex(all, p.now(), p.indexOpts...)

	regs, err := p.registry.FindAll(ctx)
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("load registrations: %w", err)
	}
	result.Registrations = len(regs)
	if len(regs) == 0 {
		logger.Info("No registered devices")
		result.Duration = time.Since(start)
		return result, nil
	}
	logger.Info("Starting notification pass",
		"registrations", len(regs), "establishments", ix.Len(), "today", ix.Today().Format(time.DateOnly))

	// Worker pool: one channel of registration indexes, N workers.
	workers := min(p.workers, len(regs))
	ch := make(chan int, len(regs))
	for i := range regs {
		ch <- i
	}
	close(ch)

	composed := make([]*Message, len(regs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ch {
				msg, out, err := p.resolve(ctx, regs[i], ix, logger)

				mu.Lock()
				switch out {
				case outcomeComposed:
					composed[i] = msg
					result.Composed++
				case outcomeInvalidToken:
					result.InvalidTokens++
				case outcomeSkipped:
					result.SkippedUsers++
				case outcomeNoSelection:
					result.NoSelection++
				}
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", regs[i].Email, err))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	msgs := make([]Message, 0, result.Composed)
	for _, m := range composed {
		if m != nil {
			msgs = append(msgs, *m)
		}
	}

	if len(msgs) > 0 {
		tickets, err := p.sender.Send(ctx, msgs)
		if err != nil {
			result.Duration = time.Since(start)
			logger.Error("Push delivery failed", "messages", len(msgs), "error", err)
			return result, fmt.Errorf("send notifications: %w", err)
		}
		p.countTickets(&result, msgs, tickets, logger)
	}

	result.Duration = time.Since(start)
	logger.Info("Notification pass complete", "summary", result.Summary())
	return result, nil
}

// resolve turns one registration into a message, or reports why it could not.
func (p *Pipeline) resolve(ctx context.Context, reg devices.Registration, ix *catalog.Index, logger *slog.Logger) (*Message, outcome, error) {
	if !devices.ValidToken(reg.Token) {
		logger.Warn("Skipping invalid push token", "email", reg.Email)
		return nil, outcomeInvalidToken, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	profile, err := p.users.GetByEmail(lookupCtx, reg.Email)
	cancel()
	switch {
	case errors.Is(err, external.ErrUserNotFound):
		logger.Debug("User not found", "email", reg.Email)
		return nil, outcomeSkipped, nil
	case err != nil:
		logger.Warn("User lookup failed", "email", reg.Email, "error", err)
		return nil, outcomeSkipped, err
	case profile == nil || !profile.Active:
		logger.Debug("User inactive", "email", reg.Email)
		return nil, outcomeSkipped, nil
	}

	user, favorites := userContext(profile, ix)
	sel, ok := p.engine.Select(ctx, user, favorites, ix)
	if !ok {
		logger.Debug("No offer selected", "email", reg.Email)
		return nil, outcomeNoSelection, nil
	}

	msg := Compose(reg.Token, sel)
	logger.Debug("Offer selected",
		"email", reg.Email, "establishment", sel.Establishment.Name,
		"branch", sel.Branch.String(), "within_radius", sel.WithinRadius)
	return &msg, outcomeComposed, nil
}

// Preview resolves email the way a pass would and returns the message it
// would send, without sending it. ok is false when the user gets nothing.
func (p *Pipeline) Preview(ctx context.Context, email string) (msg Message, ok bool, err error) {
	all, err := p.source.Load(ctx)
	if err != nil {
		return Message{}, false, fmt.Errorf("load catalog: %w", err)
	}
	ix := catalog.NewIndex(all, p.now(), p.indexOpts...)

	reg := devices.Registration{Token: previewToken, Email: email}
	m, out, err := p.resolve(ctx, reg, ix, p.logger)
	if out != outcomeComposed {
		return Message{}, false, err
	}
	return *m, true, nil
}

// userContext maps a profile to the engine's view. Favorites are matched by
// id when the profile carries ids, else by display name.
func userContext(profile *external.Profile, ix *catalog.Index) (selection.User, []catalog.Establishment) {
	user := selection.User{Favorites: profile.Favorites, Location: profile.Location()}
	if len(profile.FavoriteIDs) == 0 {
		return user, ix.FilterByNames(profile.Favorites)
	}
	if len(user.Favorites) == 0 {
		user.Favorites = profile.FavoriteIDs
	}
	return user, ix.FilterByIDs(profile.FavoriteIDs)
}

func (p *Pipeline) countTickets(result *PassResult, msgs []Message, tickets []Ticket, logger *slog.Logger) {
	for i, t := range tickets {
		if t.OK() {
			result.Sent++
			continue
		}
		result.Failed++
		detail := ""
		if t.Details != nil {
			detail = t.Details.Error
		}
		id, _ := EstablishmentID(msgs[i])
		logger.Warn("Push ticket error",
			"establishment_id", id, "message", t.Message, "detail", detail)
	}
}

// Broadcast sends the fixed test message to every valid registered token.
func (p *Pipeline) Broadcast(ctx context.Context) ([]Ticket, error) {
	regs, err := p.registry.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}

	msgs := make([]Message, 0, len(regs))
	for _, reg := range regs {
		if !devices.ValidToken(reg.Token) {
			p.logger.Warn("Skipping invalid push token", "email", reg.Email)
			continue
		}
		msgs = append(msgs, Message{
			To:    reg.Token,
			Sound: sound,
			Title: broadcastTitle,
			Body:  broadcastBody,
			Data:  map[string]string{"withSome": "data"},
		})
	}
	if len(msgs) == 0 {
		p.logger.Info("No valid tokens to broadcast to")
		return []Ticket{}, nil
	}

	tickets, err := p.sender.Send(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("send broadcast: %w", err)
	}
	p.logger.Info("Broadcast sent", "messages", len(msgs))
	return tickets, nil
}
