// Package channels holds the provider adapters. An adapter knows how to hand
// one rendered notification to one external provider and how to interpret
// that provider's asynchronous callbacks.
package channels

import (
	"context"
	"net/http"
	"time"

	"notification-engine/internal/models"
	"notification-engine/internal/template"
)

// Result is what a successful (or cleanly failed) provider call reports back.
type Result struct {
	ProviderMessageID string
	Accepted          bool
}

// CallbackEvent is a provider delivery receipt normalised into engine terms.
type CallbackEvent struct {
	ProviderMessageID string
	Status            models.Status
	OccurredAt        time.Time
	Raw               map[string]interface{}
}

// Adapter sends one notification through one provider. Implementations
// classify failures through the errors package so the dispatcher can tell
// transient from permanent without knowing the provider.
type Adapter interface {
	Name() string
	Channel() models.Channel
	Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*Result, error)

	// CheckStatus polls the provider for its current view of a previously
	// accepted message. Providers with no per-message query API report the
	// accepted status; synchronous channels report delivery.
	CheckStatus(ctx context.Context, providerMessageID string) (models.Status, error)
}

// CallbackParser is implemented by adapters whose provider pushes delivery
// receipts back over HTTP.
type CallbackParser interface {
	ParseCallback(body []byte, header http.Header) (*CallbackEvent, error)
}
