package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentCancelled     PaymentStatus = "cancelled"
	PaymentFraudDetected PaymentStatus = "fraud_detected"
)

// ParsePaymentStatus rejects anything outside the closed status set.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentCancelled, PaymentFraudDetected:
		return PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

type PaymentMethod string

const (
	MethodStripe PaymentMethod = "stripe"
	MethodCrypto PaymentMethod = "crypto"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodStripe, MethodCrypto:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// OrderItem is one line item of a purchase. The event fields are a
// denormalized copy taken at purchase time.
type OrderItem struct {
	EventID       string  `json:"eventId"`
	EventName     string  `json:"eventName"`
	EventDate     string  `json:"eventDate"` // YYYY-MM-DD
	EventTime     string  `json:"eventTime,omitempty"`
	EventLocation string  `json:"eventLocation,omitempty"`
	EventCategory string  `json:"eventCategory,omitempty"`
	TicketType    string  `json:"ticketType,omitempty"`
	Price         float64 `json:"price"`
	Quantity      int     `json:"quantity"`
	BuyerEmail    string  `json:"buyerEmail,omitempty"`
	BuyerName     string  `json:"buyerName,omitempty"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID           string            `bun:"order_id,pk" json:"order_id"`
	BuyerEmail        string            `bun:"buyer_email" json:"buyer_email"`
	BuyerName         string            `bun:"buyer_name" json:"buyer_name"`
	PaymentStatus     PaymentStatus     `bun:"payment_status" json:"payment_status"`
	PaymentMethod     PaymentMethod     `bun:"payment_method" json:"payment_method"`
	TotalAmount       float64           `bun:"total_amount" json:"total_amount"`
	Currency          string            `bun:"currency" json:"currency"`
	Items             []OrderItem       `bun:"items,type:jsonb" json:"items"`
	ProviderSessionID string            `bun:"provider_session_id,nullzero" json:"provider_session_id,omitempty"`
	PaymentIntentID   string            `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	Metadata          map[string]string `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
	CreatedAt         time.Time         `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time         `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
	CompletedAt       time.Time         `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
}

// TicketCount returns the number of admission units this order paid for.
func (o *Order) TicketCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
