package fraud

import (
	"context"
	"time"

	"ms-storefront/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// GetByFingerprint returns every record for a fingerprint, canonical owner
// first (ordered by first_used_at).
func (d *DB) GetByFingerprint(ctx context.Context, fingerprint string) ([]models.CardFingerprintRecord, error) {
	var records []models.CardFingerprintRecord
	err := d.Bun.NewSelect().
		Model(&records).
		Where("fingerprint = ?", fingerprint).
		Order("first_used_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (d *DB) Insert(ctx context.Context, record *models.CardFingerprintRecord) error {
	_, err := d.Bun.NewInsert().Model(record).Exec(ctx)
	return err
}

// RegisterUse bumps use_count and last_used_at on the canonical record.
func (d *DB) RegisterUse(ctx context.Context, id int64, now time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.CardFingerprintRecord)(nil)).
		Set("use_count = use_count + 1").
		Set("last_used_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
