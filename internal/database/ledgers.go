package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/models"
)

// AddCredits atomically increments the credit balance of uid and returns the
// new balance.
func (db *DB) AddCredits(ctx context.Context, uid string, amount int64) (int64, error) {
	var balance int64
	err := db.QueryRowContext(ctx, `UPDATE profiles SET credits = credits + ?, updated_at = ?
		WHERE user_id = ? RETURNING credits`, amount, time.Now().UTC(), uid).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("profile %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

// GetMaintenance returns the stored maintenance flag; a missing row means disabled.
func (db *DB) GetMaintenance(ctx context.Context) (*models.Maintenance, error) {
	var m models.Maintenance
	err := db.QueryRowContext(ctx, `SELECT is_enabled, message, updated_at FROM maintenance WHERE id = 1`).
		Scan(&m.IsEnabled, &m.Message, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Maintenance{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMaintenance stores the maintenance flag and message.
func (db *DB) SetMaintenance(ctx context.Context, m *models.Maintenance) error {
	m.UpdatedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx, `INSERT INTO maintenance (id, is_enabled, message, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_enabled = excluded.is_enabled, message = excluded.message,
			updated_at = excluded.updated_at`,
		m.IsEnabled, m.Message, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set maintenance: %w", err)
	}
	return nil
}
