package models

import (
	"encoding/json"
	"fmt"
)

// CryptomusWebhookPayload is the body Cryptomus posts on every payment
// status change. AdditionalData is whatever the storefront attached at
// invoice creation; Cryptomus echoes it back either as a JSON object or as
// a JSON-encoded string, so it is decoded lazily.
type CryptomusWebhookPayload struct {
	OrderID        string          `json:"order_id"`
	PaymentStatus  string          `json:"payment_status"`
	UUID           string          `json:"uuid"`
	Txid           string          `json:"txid,omitempty"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency"`
	PayerCurrency  string          `json:"payer_currency,omitempty"`
	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
}

// CryptomusAdditionalData is the storefront-owned part of the invoice.
type CryptomusAdditionalData struct {
	Items      []OrderItem `json:"items"`
	BuyerEmail string      `json:"buyerEmail,omitempty"`
	BuyerName  string      `json:"buyerName,omitempty"`
}

// DecodeAdditionalData handles both encodings Cryptomus uses for
// additional_data: a JSON object or a string containing JSON.
func (p *CryptomusWebhookPayload) DecodeAdditionalData() (*CryptomusAdditionalData, error) {
	if len(p.AdditionalData) == 0 {
		return nil, fmt.Errorf("additional_data is empty")
	}

	raw := p.AdditionalData
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = []byte(asString)
	}

	var data CryptomusAdditionalData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode additional_data: %w", err)
	}
	return &data, nil
}

// WebhookAck is the body returned to payment providers. A 200 with
// Ignored or Warning set acknowledges delivery without triggering a retry.
type WebhookAck struct {
	OK      bool   `json:"ok"`
	Ignored bool   `json:"ignored,omitempty"`
	Warning string `json:"warning,omitempty"`
	Fraud   bool   `json:"fraud,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`
	Tickets int    `json:"tickets,omitempty"`
}
