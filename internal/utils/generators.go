package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateOrderID builds a provider-agnostic order identifier. The caller
// generates it before any provider round trip so the same ID can key both
// the Stripe session metadata and the Cryptomus invoice.
func GenerateOrderID() string {
	return fmt.Sprintf("order_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

// GenerateTicketID returns the opaque primary key for a ticket row.
func GenerateTicketID() string {
	return "tkt_" + uuid.NewString()
}
