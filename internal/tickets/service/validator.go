package tickets

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-storefront/internal/models"

	"github.com/google/uuid"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrPinMismatch    = errors.New("invalid PIN")
	ErrNotAuthorized  = errors.New("caller is not authorized to redeem tickets")
)

// NotRedeemableError means the ticket exists but cannot be redeemed now.
type NotRedeemableError struct {
	Reason string
	UsedAt time.Time
	UsedBy string
}

func (e *NotRedeemableError) Error() string { return e.Reason }

// ValidationResult is the structured outcome of a gate-side validity check.
type ValidationResult struct {
	Valid  bool       `json:"valid"`
	Reason string     `json:"reason,omitempty"`
	UsedAt *time.Time `json:"used_at,omitempty"`
	UsedBy string     `json:"used_by,omitempty"`
}

// Lookup resolves a ticket by its opaque ID or by its human-presentable
// code; both paths land on the same row.
func (s *TicketService) Lookup(ctx context.Context, idOrCode string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, idOrCode)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up ticket %s: %w", idOrCode, err)
	}

	ticket, err = s.DB.GetTicketByCode(ctx, idOrCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to look up ticket code %s: %w", idOrCode, err)
	}
	return ticket, nil
}

// CheckValidity reports whether the ticket could be redeemed right now.
// The event date comparison is date-only in the validator's local zone.
func (s *TicketService) CheckValidity(ticket *models.Ticket, now time.Time) ValidationResult {
	switch ticket.Status {
	case models.TicketIssuedUsed:
		usedAt := ticket.UsedAt
		return ValidationResult{Valid: false, Reason: "already used", UsedAt: &usedAt, UsedBy: ticket.UsedBy}
	case models.TicketCancelled:
		return ValidationResult{Valid: false, Reason: "cancelled"}
	case models.TicketRefunded:
		return ValidationResult{Valid: false, Reason: "refunded"}
	}

	if eventDate, err := time.ParseInLocation("2006-01-02", ticket.EventDate, now.Location()); err == nil {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if eventDate.Before(today) {
			return ValidationResult{Valid: false, Reason: "event date has passed"}
		}
	} else if ticket.EventDate != "" {
		// An unparsable date must not lock paying customers out at the
		// gate; log it and let the status checks decide.
		s.Logger.Warn("TICKET", fmt.Sprintf("ticket %s has unparsable event date %q", ticket.ID, ticket.EventDate))
	}

	return ValidationResult{Valid: true}
}

// Validate is the read-only gate check: lookup plus CheckValidity.
func (s *TicketService) Validate(ctx context.Context, idOrCode string) (*models.Ticket, ValidationResult, error) {
	ticket, err := s.Lookup(ctx, idOrCode)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	return ticket, s.CheckValidity(ticket, s.now()), nil
}

// Redeem performs the one-time unused->used transition, gated by the
// 4-digit PIN and the caller's role. A PIN mismatch never mutates state.
// Concurrent attempts get exactly one winner; the loser sees
// NotRedeemableError{"already used"}.
func (s *TicketService) Redeem(ctx context.Context, idOrCode, presentedPin string, staff models.Identity) (*models.Ticket, error) {
	if !staff.Role.Elevated() {
		return nil, ErrNotAuthorized
	}

	ticket, err := s.Lookup(ctx, idOrCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if result := s.CheckValidity(ticket, now); !result.Valid {
		nre := &NotRedeemableError{Reason: result.Reason, UsedBy: result.UsedBy}
		if result.UsedAt != nil {
			nre.UsedAt = *result.UsedAt
		}
		return nil, nre
	}

	if subtle.ConstantTimeCompare([]byte(ticket.Pin), []byte(presentedPin)) != 1 {
		s.Logger.Warn("TICKET", fmt.Sprintf("pin mismatch for ticket %s", ticket.ID))
		return nil, ErrPinMismatch
	}

	validationCode := uuid.NewString()
	won, err := s.DB.Redeem(ctx, ticket.ID, staff.UserID, validationCode, now)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem ticket %s: %w", ticket.ID, err)
	}
	if !won {
		// A concurrent attempt got there first; report what the row
		// looks like now.
		current, err := s.DB.GetTicketByID(ctx, ticket.ID)
		if err != nil {
			return nil, &NotRedeemableError{Reason: "already used"}
		}
		return nil, &NotRedeemableError{Reason: "already used", UsedAt: current.UsedAt, UsedBy: current.UsedBy}
	}

	ticket.Status = models.TicketIssuedUsed
	ticket.UsedAt = now
	ticket.UsedBy = staff.UserID
	ticket.ValidationCode = validationCode
	ticket.UpdatedAt = now

	s.Logger.LogTicket("REDEEM", ticket.ID, fmt.Sprintf("redeemed by %s", staff.UserID))
	return ticket, nil
}
