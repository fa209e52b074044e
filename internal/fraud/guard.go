package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-storefront/internal/logger"
	"ms-storefront/internal/models"
)

type DBLayer interface {
	GetByFingerprint(ctx context.Context, fingerprint string) ([]models.CardFingerprintRecord, error)
	Insert(ctx context.Context, record *models.CardFingerprintRecord) error
	RegisterUse(ctx context.Context, id int64, now time.Time) error
}

// Guard implements the card-fingerprint reuse heuristic: the first buyer
// email ever seen with a fingerprint is its canonical owner, and any later
// transaction presenting the same fingerprint under a different email is
// flagged and blocked. Shared household cards do trip this; it is an
// operator alert, not a cryptographic proof.
type Guard struct {
	DB     DBLayer
	Logger *logger.Logger

	now func() time.Time
}

func NewGuard(db DBLayer, log *logger.Logger) *Guard {
	return &Guard{DB: db, Logger: log, now: time.Now}
}

// Evaluate classifies one sighting of (fingerprint, buyer email).
func (g *Guard) Evaluate(ctx context.Context, fingerprint, presentedEmail string, meta models.CardMeta) (models.FraudCheckResult, error) {
	email := normalizeEmail(presentedEmail)
	now := g.now()

	records, err := g.DB.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return models.FraudCheckResult{}, fmt.Errorf("failed to look up fingerprint: %w", err)
	}

	if len(records) == 0 {
		record := &models.CardFingerprintRecord{
			Fingerprint: fingerprint,
			BuyerEmail:  email,
			BuyerName:   meta.BuyerName,
			Last4:       meta.Last4,
			Brand:       meta.Brand,
			ExpMonth:    meta.ExpMonth,
			ExpYear:     meta.ExpYear,
			FirstUsedAt: now,
			LastUsedAt:  now,
			UseCount:    1,
		}
		if err := g.DB.Insert(ctx, record); err != nil {
			return models.FraudCheckResult{}, fmt.Errorf("failed to record new fingerprint: %w", err)
		}
		return models.FraudCheckResult{Allowed: true, IsNew: true}, nil
	}

	// The oldest record for this email, if any, is the one to bump.
	for i := range records {
		if normalizeEmail(records[i].BuyerEmail) != email {
			continue
		}
		if records[i].IsBlocked {
			g.Logger.LogFraud(fingerprint, fmt.Sprintf("blocked owner %s attempted reuse", obfuscateEmail(email)))
			return models.FraudCheckResult{
				Allowed:   false,
				Reason:    records[i].BlockedReason,
				AlertType: models.AlertBlocked,
			}, nil
		}
		if err := g.DB.RegisterUse(ctx, records[i].ID, now); err != nil {
			return models.FraudCheckResult{}, fmt.Errorf("failed to register fingerprint use: %w", err)
		}
		return models.FraudCheckResult{Allowed: true}, nil
	}

	owner := records[0]

	// A different email presenting the canonical owner's cardholder name
	// is the household pattern: surfaced for manual review, not unwound.
	if meta.BuyerName != "" && strings.EqualFold(strings.TrimSpace(meta.BuyerName), strings.TrimSpace(owner.BuyerName)) {
		reason := fmt.Sprintf("card fingerprint shared under matching cardholder name, bound to %s since %s",
			obfuscateEmail(owner.BuyerEmail), owner.FirstUsedAt.Format("2006-01-02"))

		sighting := &models.CardFingerprintRecord{
			Fingerprint: fingerprint,
			BuyerEmail:  email,
			BuyerName:   meta.BuyerName,
			Last4:       meta.Last4,
			Brand:       meta.Brand,
			ExpMonth:    meta.ExpMonth,
			ExpYear:     meta.ExpYear,
			FirstUsedAt: now,
			LastUsedAt:  now,
			UseCount:    1,
		}
		if err := g.DB.Insert(ctx, sighting); err != nil {
			return models.FraudCheckResult{}, fmt.Errorf("failed to record shared fingerprint sighting: %w", err)
		}

		g.Logger.LogFraud(fingerprint, fmt.Sprintf("shared-card sighting by %s, canonical owner %s, flagged for review",
			obfuscateEmail(email), obfuscateEmail(owner.BuyerEmail)))

		return models.FraudCheckResult{
			Allowed:       true,
			Reason:        reason,
			AlertType:     models.AlertWarning,
			OriginalOwner: obfuscateEmail(owner.BuyerEmail),
			FirstUsedAt:   owner.FirstUsedAt,
		}, nil
	}

	// Different buyer on a known card: block this attempt and keep an
	// audit row, without touching the canonical owner.
	reason := fmt.Sprintf("card fingerprint already bound to %s since %s",
		obfuscateEmail(owner.BuyerEmail), owner.FirstUsedAt.Format("2006-01-02"))

	audit := &models.CardFingerprintRecord{
		Fingerprint:   fingerprint,
		BuyerEmail:    email,
		BuyerName:     meta.BuyerName,
		Last4:         meta.Last4,
		Brand:         meta.Brand,
		ExpMonth:      meta.ExpMonth,
		ExpYear:       meta.ExpYear,
		FirstUsedAt:   now,
		LastUsedAt:    now,
		UseCount:      1,
		IsBlocked:     true,
		BlockedReason: reason,
	}
	if err := g.DB.Insert(ctx, audit); err != nil {
		return models.FraudCheckResult{}, fmt.Errorf("failed to record blocked fingerprint sighting: %w", err)
	}

	g.Logger.LogFraud(fingerprint, fmt.Sprintf("reuse by %s, canonical owner %s",
		obfuscateEmail(email), obfuscateEmail(owner.BuyerEmail)))

	return models.FraudCheckResult{
		Allowed:       false,
		Fraud:         true,
		Reason:        reason,
		AlertType:     models.AlertBlocked,
		OriginalOwner: obfuscateEmail(owner.BuyerEmail),
		FirstUsedAt:   owner.FirstUsedAt,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// obfuscateEmail keeps enough of the local part for operator review:
// "alice@x.com" -> "ali***@x.com".
func obfuscateEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	keep := 3
	if len(local) < keep {
		keep = 1
	}
	return local[:keep] + "***" + email[at:]
}
