// Package notifications runs the offer notification pass and delivers the
// resulting push messages.
//
// Pipeline: load catalog → load registrations → resolve users (worker pool)
// → select an offer per user → compose → send in batches via Expo.
package notifications

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	offerTitle = "📢 ¡Descuento especial!"
	sound      = "default"

	broadcastTitle = "🧨 Oferta Expirando!"
	broadcastBody  = "Corre que é só até hoje!"

	// MaxBatchSize is the largest number of messages Expo accepts per request.
	MaxBatchSize = 100

	defaultWorkers       = 4
	defaultLookupTimeout = 10 * time.Second
	defaultSendParallel  = 4
)

// dataKeyID is the payload key carrying the establishment id.
const dataKeyID = "id"

// previewToken addresses messages built by Pipeline.Preview.
const previewToken = "ExponentPushToken[preview]"

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Message is an Expo push message.
type Message struct {
	To    string            `json:"to"`
	Sound string            `json:"sound,omitempty"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Ticket is the per-message receipt returned by the push service.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

// TicketDetails carries the machine-readable error of a failed ticket, e.g.
// "DeviceNotRegistered".
type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// OK reports whether the push service accepted the message.
func (t Ticket) OK() bool { return t.Status == "ok" }

// Sender delivers push messages. Tickets are returned in message order.
type Sender interface {
	Send(ctx context.Context, msgs []Message) ([]Ticket, error)
}
