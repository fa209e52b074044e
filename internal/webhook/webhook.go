package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"ms-storefront/internal/mailer"
	"ms-storefront/internal/models"
)

// Webhook bodies are small; anything past this is hostile.
const maxBodyBytes = 1 << 20

type Ledger interface {
	UpsertPaid(ctx context.Context, draft models.Order) (*models.Order, error)
	MarkFraudDetected(ctx context.Context, orderID string) error
}

type Issuer interface {
	IssueTickets(ctx context.Context, order *models.Order) (tickets []models.Ticket, issuedNow bool, err error)
	CancelOrderTickets(ctx context.Context, orderID, reason string) (int64, error)
}

type MailQueue interface {
	Enqueue(msg mailer.Message)
}

// Deduper short-circuits redeliveries of already-processed events. Seen
// must stay read-only; an event is marked only after the order and its
// tickets were persisted, so a 5xx response always leaves the event
// unclaimed for the provider's retry.
type Deduper interface {
	Seen(ctx context.Context, provider, eventID string) bool
	MarkProcessed(ctx context.Context, provider, eventID string)
}

type EventPublisher interface {
	Publish(topic, key string, value []byte) error
}

func writeAck(w http.ResponseWriter, status int, ack models.WebhookAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ack)
}
