package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketIssuedUnused TicketStatus = "issued_unused"
	TicketIssuedUsed   TicketStatus = "issued_used"
	TicketCancelled    TicketStatus = "cancelled"
	TicketRefunded     TicketStatus = "refunded"
)

// ParseTicketStatus rejects anything outside the closed status set.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch TicketStatus(s) {
	case TicketIssuedUnused, TicketIssuedUsed, TicketCancelled, TicketRefunded:
		return TicketStatus(s), nil
	}
	return "", fmt.Errorf("unknown ticket status %q", s)
}

// Terminal reports whether no further status transition is allowed.
func (s TicketStatus) Terminal() bool {
	return s == TicketIssuedUsed || s == TicketCancelled || s == TicketRefunded
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID         string `bun:"id,pk" json:"id"`
	TicketCode string `bun:"ticket_code,unique" json:"ticket_code"`
	Pin        string `bun:"pin" json:"-"`
	QRPayload  string `bun:"qr_payload" json:"qr_payload"`

	Status TicketStatus `bun:"status" json:"status"`

	// Denormalized event copy, immutable after issuance.
	EventID       string `bun:"event_id" json:"event_id"`
	EventName     string `bun:"event_name" json:"event_name"`
	EventDate     string `bun:"event_date" json:"event_date"` // YYYY-MM-DD
	EventTime     string `bun:"event_time,nullzero" json:"event_time,omitempty"`
	EventLocation string `bun:"event_location,nullzero" json:"event_location,omitempty"`
	EventCategory string `bun:"event_category,nullzero" json:"event_category,omitempty"`

	BuyerEmail string `bun:"buyer_email" json:"buyer_email"`
	BuyerName  string `bun:"buyer_name,nullzero" json:"buyer_name,omitempty"`

	TicketType string `bun:"ticket_type,nullzero" json:"ticket_type,omitempty"`
	SeatNumber string `bun:"seat_number,nullzero" json:"seat_number,omitempty"`
	SeatType   string `bun:"seat_type,nullzero" json:"seat_type,omitempty"`
	GateNumber string `bun:"gate_number,nullzero" json:"gate_number,omitempty"`

	Price     float64 `bun:"price" json:"price"`
	PricePaid float64 `bun:"price_paid" json:"price_paid"`

	OrderID string `bun:"order_id" json:"order_id"`

	UsedAt             time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	UsedBy             string    `bun:"used_by,nullzero" json:"used_by,omitempty"`
	ValidationCode     string    `bun:"validation_code,nullzero" json:"-"`
	CancellationReason string    `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}
