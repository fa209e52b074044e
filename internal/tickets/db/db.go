package db

import (
	"context"
	"time"

	"ms-storefront/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// CreateTickets inserts a fulfillment batch in one statement.
func (d *DB) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// Redeem performs the one-shot unused->used transition. The status guard in
// the WHERE clause makes the store pick exactly one winner under concurrent
// attempts; rows affected == 0 means someone else won (or the ticket was
// never redeemable).
func (d *DB) Redeem(ctx context.Context, id, usedBy, validationCode string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketIssuedUsed).
		Set("used_at = ?", now).
		Set("used_by = ?", usedBy).
		Set("validation_code = ?", validationCode).
		Set("updated_at = ?", now).
		Where("id = ? AND status = ?", id, models.TicketIssuedUnused).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CancelByOrder transitions every still-unused ticket of an order to
// cancelled. Already-used tickets are left alone.
func (d *DB) CancelByOrder(ctx context.Context, orderID, reason string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketCancelled).
		Set("cancellation_reason = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("order_id = ? AND status = ?", orderID, models.TicketIssuedUnused).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdatePin assigns a PIN to a ticket that is missing one.
func (d *DB) UpdatePin(ctx context.Context, id, pin string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("pin = ?", pin).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
