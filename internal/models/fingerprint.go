package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CardFingerprintRecord binds a provider-issued card fingerprint to the
// buyer identity that first presented it. Later sightings by a different
// identity are stored as additional blocked audit rows; the first row stays
// the canonical owner.
type CardFingerprintRecord struct {
	bun.BaseModel `bun:"table:card_fingerprints"`

	ID            int64             `bun:"id,pk,autoincrement" json:"id"`
	Fingerprint   string            `bun:"fingerprint" json:"fingerprint"`
	BuyerEmail    string            `bun:"buyer_email" json:"buyer_email"`
	BuyerName     string            `bun:"buyer_name,nullzero" json:"buyer_name,omitempty"`
	Last4         string            `bun:"last4,nullzero" json:"last4,omitempty"`
	Brand         string            `bun:"brand,nullzero" json:"brand,omitempty"`
	ExpMonth      int64             `bun:"exp_month,nullzero" json:"exp_month,omitempty"`
	ExpYear       int64             `bun:"exp_year,nullzero" json:"exp_year,omitempty"`
	FirstUsedAt   time.Time         `bun:"first_used_at" json:"first_used_at"`
	LastUsedAt    time.Time         `bun:"last_used_at" json:"last_used_at"`
	UseCount      int               `bun:"use_count" json:"use_count"`
	IsBlocked     bool              `bun:"is_blocked" json:"is_blocked"`
	BlockedReason string            `bun:"blocked_reason,nullzero" json:"blocked_reason,omitempty"`
	Metadata      map[string]string `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
}

// CardMeta carries the non-sensitive card attributes the provider exposes
// alongside the fingerprint.
type CardMeta struct {
	BuyerName string
	Last4     string
	Brand     string
	ExpMonth  int64
	ExpYear   int64
}

type FraudAlertType string

const (
	AlertBlocked FraudAlertType = "blocked"
	AlertWarning FraudAlertType = "warning"
)

// FraudCheckResult is the outcome of a fingerprint evaluation.
type FraudCheckResult struct {
	Allowed bool `json:"allowed"`
	Fraud   bool `json:"fraud"`
	IsNew   bool `json:"is_new"`

	Reason    string         `json:"reason,omitempty"`
	AlertType FraudAlertType `json:"alert_type,omitempty"`

	// Set on fraud: obfuscated canonical owner for operator review.
	OriginalOwner string    `json:"original_owner,omitempty"`
	FirstUsedAt   time.Time `json:"first_used_at,omitempty"`
}
