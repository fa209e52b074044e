package tickets

import (
	"context"
	"fmt"
	"time"

	"ms-storefront/internal/logger"
	"ms-storefront/internal/models"
	"ms-storefront/internal/tickets/codec"
	"ms-storefront/internal/utils"
)

type TicketDBLayer interface {
	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	Redeem(ctx context.Context, id, usedBy, validationCode string, now time.Time) (bool, error)
	CancelByOrder(ctx context.Context, orderID, reason string) (int64, error)
	UpdatePin(ctx context.Context, id, pin string) error
}

// TicketService is both the fulfillment side (fan a paid order out into
// ticket rows) and the gate side (validate and redeem).
type TicketService struct {
	DB     TicketDBLayer
	Origin string
	Logger *logger.Logger

	now func() time.Time
}

func NewTicketService(db TicketDBLayer, origin string, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Origin: origin, Logger: log, now: time.Now}
}

// IssueTickets expands order.Items into one ticket per unit of quantity.
// It is safe under duplicate webhook delivery: if any tickets already exist
// for the order, the existing set is returned unchanged with issuedNow
// false. An order with no usable line items yields an empty set and no
// error; that is an operational problem, not a protocol one.
func (s *TicketService) IssueTickets(ctx context.Context, order *models.Order) (tickets []models.Ticket, issuedNow bool, err error) {
	existing, err := s.DB.GetTicketsByOrder(ctx, order.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing tickets for order %s: %w", order.OrderID, err)
	}
	if len(existing) > 0 {
		s.Logger.LogTicket("ISSUE", order.OrderID,
			fmt.Sprintf("tickets already issued (%d), skipping fan-out", len(existing)))
		return existing, false, nil
	}

	if len(order.Items) == 0 {
		s.Logger.Warn("TICKET", fmt.Sprintf("order %s has no line items, nothing to issue", order.OrderID))
		return nil, false, nil
	}

	now := s.now()
	var batch []models.Ticket
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			s.Logger.Warn("TICKET", fmt.Sprintf("order %s: item %q has quantity %d, skipping",
				order.OrderID, item.EventName, item.Quantity))
			continue
		}
		for unit := 0; unit < item.Quantity; unit++ {
			code, err := codec.GenerateTicketCode(codec.DefaultCodeLength)
			if err != nil {
				return nil, false, fmt.Errorf("failed to generate ticket code: %w", err)
			}
			pin, err := codec.GeneratePin()
			if err != nil {
				return nil, false, fmt.Errorf("failed to generate pin: %w", err)
			}

			// The ID is generated here rather than by the store, so the
			// QR payload can carry the final ID without a patch step.
			id := utils.GenerateTicketID()

			batch = append(batch, models.Ticket{
				ID:            id,
				TicketCode:    code,
				Pin:           pin,
				QRPayload:     codec.BuildValidationURL(s.Origin, id, code),
				Status:        models.TicketIssuedUnused,
				EventID:       item.EventID,
				EventName:     item.EventName,
				EventDate:     item.EventDate,
				EventTime:     item.EventTime,
				EventLocation: item.EventLocation,
				EventCategory: item.EventCategory,
				BuyerEmail:    order.BuyerEmail,
				BuyerName:     order.BuyerName,
				TicketType:    item.TicketType,
				Price:         item.Price,
				PricePaid:     item.Price,
				OrderID:       order.OrderID,
				CreatedAt:     now,
			})
		}
	}

	if len(batch) == 0 {
		s.Logger.Warn("TICKET", fmt.Sprintf("order %s: all line items were unusable", order.OrderID))
		return nil, false, nil
	}

	if err := s.DB.CreateTickets(ctx, batch); err != nil {
		return nil, false, fmt.Errorf("failed to persist tickets for order %s: %w", order.OrderID, err)
	}

	s.Logger.LogTicket("ISSUE", order.OrderID, fmt.Sprintf("issued %d tickets", len(batch)))
	return batch, true, nil
}

// GetTicketsByOrder returns the tickets of one order.
func (s *TicketService) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// CancelOrderTickets cancels every unused ticket of an order, recording why.
func (s *TicketService) CancelOrderTickets(ctx context.Context, orderID, reason string) (int64, error) {
	n, err := s.DB.CancelByOrder(ctx, orderID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tickets for order %s: %w", orderID, err)
	}
	s.Logger.LogTicket("CANCEL", orderID, fmt.Sprintf("cancelled %d tickets: %s", n, reason))
	return n, nil
}

// EnsurePin returns the ticket with a PIN guaranteed to be set, assigning a
// fresh one first when the stored row has none.
func (s *TicketService) EnsurePin(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := s.Lookup(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Pin == "" {
		pin, err := codec.GeneratePin()
		if err != nil {
			return nil, err
		}
		if err := s.DB.UpdatePin(ctx, ticket.ID, pin); err != nil {
			return nil, fmt.Errorf("failed to assign pin to ticket %s: %w", ticket.ID, err)
		}
		ticket.Pin = pin
		s.Logger.LogTicket("PIN", ticket.ID, "assigned missing pin")
	}
	return ticket, nil
}
