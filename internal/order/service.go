package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-storefront/internal/logger"
	"ms-storefront/internal/models"
)

type DBLayer interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) (bool, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.PaymentStatus, completedAt *time.Time) error
}

// LedgerService owns the Order aggregate: one row per order_id, written
// idempotently from at-least-once webhook deliveries.
type LedgerService struct {
	DB     DBLayer
	Logger *logger.Logger
}

func NewLedgerService(db DBLayer, log *logger.Logger) *LedgerService {
	return &LedgerService{DB: db, Logger: log}
}

// UpsertPaid records a completed checkout for draft.OrderID. A completed
// checkout session is always stored as paid, whatever payment_status the
// provider payload carries. Redelivery of the same event is a no-op.
func (s *LedgerService) UpsertPaid(ctx context.Context, draft models.Order) (*models.Order, error) {
	existing, err := s.DB.GetOrderByID(ctx, draft.OrderID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up order %s: %w", draft.OrderID, err)
	}

	now := time.Now()

	if existing == nil {
		draft.PaymentStatus = models.PaymentPaid
		draft.CreatedAt = now
		draft.CompletedAt = now

		inserted, err := s.DB.CreateOrder(ctx, &draft)
		if err != nil {
			return nil, fmt.Errorf("failed to create order %s: %w", draft.OrderID, err)
		}
		if !inserted {
			// Lost the insert race to a concurrent delivery; the row
			// exists now, fall through to the update path.
			existing, err = s.DB.GetOrderByID(ctx, draft.OrderID)
			if err != nil {
				return nil, fmt.Errorf("failed to re-read order %s after conflict: %w", draft.OrderID, err)
			}
		} else {
			s.Logger.LogOrder("CREATE", draft.OrderID, "order recorded as paid")
			return &draft, nil
		}
	}

	// fraud_detected is terminal; a webhook retry must not resurrect the
	// order as paid after the charge was unwound.
	if existing.PaymentStatus == models.PaymentFraudDetected {
		s.Logger.LogOrder("UPSERT", existing.OrderID, "order is fraud_detected, leaving untouched")
		return existing, nil
	}

	if existing.PaymentStatus != models.PaymentPaid {
		var completedAt *time.Time
		if existing.CompletedAt.IsZero() {
			completedAt = &now
		}
		if err := s.DB.UpdateOrderStatus(ctx, existing.OrderID, models.PaymentPaid, completedAt); err != nil {
			return nil, fmt.Errorf("failed to mark order %s paid: %w", existing.OrderID, err)
		}
		existing.PaymentStatus = models.PaymentPaid
		if completedAt != nil {
			existing.CompletedAt = *completedAt
		}
		s.Logger.LogOrder("UPDATE", existing.OrderID, "order transitioned to paid")
	}

	return existing, nil
}

// MarkFraudDetected flags an order after the fingerprint guard unwound it.
func (s *LedgerService) MarkFraudDetected(ctx context.Context, orderID string) error {
	if err := s.DB.UpdateOrderStatus(ctx, orderID, models.PaymentFraudDetected, nil); err != nil {
		return fmt.Errorf("failed to flag order %s as fraud_detected: %w", orderID, err)
	}
	s.Logger.LogOrder("FRAUD", orderID, "order flagged as fraud_detected")
	return nil
}

// GetOrder fetches one order for the authenticated query endpoints.
func (s *LedgerService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s not found: %w", orderID, err)
	}
	return order, nil
}

// GetOrderBySession resolves the order behind a checkout session for the
// success-page verification endpoint.
func (s *LedgerService) GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	order, err := s.DB.GetOrderBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("no order for session %s: %w", sessionID, err)
	}
	return order, nil
}
