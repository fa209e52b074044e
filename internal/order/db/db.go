package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-storefront/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// GetOrderByID fetches one order; returns sql.ErrNoRows when absent.
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderBySessionID resolves an order through the provider checkout
// session it was paid with.
func (d *DB) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("provider_session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder inserts a new order, relying on the order_id primary key to
// absorb concurrent duplicate webhook deliveries. Returns true when this
// call actually inserted the row.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(order).
		On("CONFLICT (order_id) DO NOTHING").
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

// UpdateOrderStatus changes payment_status only, stamping updated_at and,
// when provided, completed_at. Other fields are left untouched.
func (d *DB) UpdateOrderStatus(ctx context.Context, id string, status models.PaymentStatus, completedAt *time.Time) error {
	q := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("order_id = ?", id)
	if completedAt != nil {
		q = q.Set("completed_at = ?", *completedAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
