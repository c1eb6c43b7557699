// Package catalog holds the in-memory view of the offers feed for a single
// notification pass: filtering by favorites and picking the offer closest to
// expiry.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/x42/offer-notifier/internal/validity"
)

// ID identifies an establishment. The feed carries ids either as JSON strings
// or numbers; both decode to the same decimal text.
type ID string

// UnmarshalJSON accepts a string or a number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("establishment id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Establishment is a merchant offer as published in the feed.
type Establishment struct {
	ID       ID     `json:"id"`
	Name     string `json:"nome_estabelecimento"`
	Discount string `json:"desconto"`
	Address  string `json:"endereco,omitempty"`
	Validity string `json:"vigencia"`
}

// Chooser returns a uniform index in [0, n).
type Chooser func(n int) int

// Index is a read-only view of the catalog for one pass. End dates are parsed
// once per distinct validity text and shared by all workers.
type Index struct {
	all    []Establishment
	today  time.Time
	choose Chooser

	mu   sync.Mutex
	ends map[string]time.Time
}

// Option customises an Index.
type Option func(*Index)

// WithChooser replaces the random tie-breaker.
func WithChooser(c Chooser) Option {
	return func(ix *Index) { ix.choose = c }
}

// NewIndex builds an index over all establishments as seen on today.
func NewIndex(all []Establishment, today time.Time, opts ...Option) *Index {
	ix := &Index{
		all:    all,
		today:  validity.Today(today),
		choose: rand.IntN,
		ends:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// All returns every establishment in catalog order.
func (ix *Index) All() []Establishment { return ix.all }

// Today returns the reference day of the index.
func (ix *Index) Today() time.Time { return ix.today }

// Len returns the number of establishments.
func (ix *Index) Len() int { return len(ix.all) }

// EndDate returns the memoised end date of e's validity window.
func (ix *Index) EndDate(e Establishment) time.Time {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if end, ok := ix.ends[e.Validity]; ok {
		return end
	}
	end := validity.EndDate(e.Validity, ix.today)
	ix.ends[e.Validity] = end
	return end
}

// IsValid reports whether e is still running on the index's reference day.
func (ix *Index) IsValid(e Establishment) bool {
	return !ix.EndDate(e).Before(ix.today)
}

// FilterByNames returns, in catalog order, the establishments whose display
// name is in names.
func (ix *Index) FilterByNames(names []string) []Establishment {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	var out []Establishment
	for _, e := range ix.all {
		if _, ok := set[e.Name]; ok {
			out = append(out, e)
		}
	}
	return out
}

// FilterByIDs returns, in catalog order, the establishments whose id is in ids.
func (ix *Index) FilterByIDs(ids []string) []Establishment {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		set[ID(id)] = struct{}{}
	}
	var out []Establishment
	for _, e := range ix.all {
		if _, ok := set[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

// NearestToExpire picks, among the still-valid establishments of list, one of
// those ending soonest. Ties are broken uniformly at random.
func (ix *Index) NearestToExpire(list []Establishment) (Establishment, bool) {
	var (
		tied    []Establishment
		minDate time.Time
	)
	for _, e := range list {
		end := ix.EndDate(e)
		if end.Before(ix.today) {
			continue
		}
		switch {
		case len(tied) == 0 || end.Before(minDate):
			minDate = end
			tied = append(tied[:0:0], e)
		case validity.SameDay(end, minDate):
			tied = append(tied, e)
		}
	}
	if len(tied) == 0 {
		return Establishment{}, false
	}
	return ix.Pick(tied), true
}

// SharingEndDate returns the members of list whose end date falls on the
// same calendar day as end.
func (ix *Index) SharingEndDate(list []Establishment, end time.Time) []Establishment {
	var out []Establishment
	for _, e := range list {
		if validity.SameDay(ix.EndDate(e), end) {
			out = append(out, e)
		}
	}
	return out
}

// Pick returns a uniformly chosen member of a non-empty list.
func (ix *Index) Pick(list []Establishment) Establishment {
	if len(list) == 1 {
		return list[0]
	}
	return list[ix.choose(len(list))]
}
