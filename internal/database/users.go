package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studiobook/internal/models"

	"github.com/google/uuid"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount stores a login identity and its profile in one transaction.
func (db *DB) CreateAccount(ctx context.Context, acct *models.Account) error {
	if acct.UID == "" {
		acct.UID = uuid.NewString()
	}
	acct.Email = normalizeEmail(acct.Email)
	acct.CreatedAt = time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (uid, email, display_name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		acct.UID, acct.Email, acct.DisplayName, acct.PasswordHash, acct.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", acct.Email, ErrEmailExists)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO profiles (user_id, display_name, email, role, credits, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email,
			updated_at = excluded.updated_at`,
		acct.UID, acct.DisplayName, acct.Email, models.RoleUser, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}

	return tx.Commit()
}

// GetAccountByEmail looks up a login identity.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var acct models.Account
	err := db.QueryRowContext(ctx,
		`SELECT uid, email, display_name, password_hash, created_at FROM accounts WHERE email = ?`,
		normalizeEmail(email),
	).Scan(&acct.UID, &acct.Email, &acct.DisplayName, &acct.PasswordHash, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// UpdateProfile sets the display name and email on both the account and the
// profile of uid, creating the profile when missing.
func (db *DB) UpdateProfile(ctx context.Context, uid, displayName, email string) error {
	email = normalizeEmail(email)
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if email != "" {
		_, err = tx.ExecContext(ctx, `UPDATE accounts SET display_name = ?, email = ? WHERE uid = ?`,
			displayName, email, uid)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE accounts SET display_name = ? WHERE uid = ?`, displayName, uid)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", email, ErrEmailExists)
		}
		return fmt.Errorf("update account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO profiles (user_id, display_name, email, role, credits, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = CASE WHEN excluded.email = '' THEN profiles.email ELSE excluded.email END,
			updated_at = excluded.updated_at`,
		uid, displayName, email, models.RoleUser, now)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	return tx.Commit()
}

const profileColumns = `user_id, display_name, email, role, credits, updated_at`

func scanProfile(row rowScanner) (*models.UserProfile, error) {
	var p models.UserProfile
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.Email, &p.Role, &p.Credits, &p.LastUpdated); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile returns the profile of uid.
func (db *DB) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	p, err := scanProfile(db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", uid, ErrNotFound)
	}
	return p, err
}

// FindProfileByEmail returns the profile registered under email.
func (db *DB) FindProfileByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	p, err := scanProfile(db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE email = ? LIMIT 1`, normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", email, ErrNotFound)
	}
	return p, err
}

// ListProfiles returns every profile ordered by display name.
func (db *DB) ListProfiles(ctx context.Context) ([]*models.UserProfile, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY display_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// SetRole changes the role of uid.
func (db *DB) SetRole(ctx context.Context, uid string, role models.Role) error {
	res, err := db.ExecContext(ctx, `UPDATE profiles SET role = ?, updated_at = ? WHERE user_id = ?`,
		role, time.Now().UTC(), uid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", uid, ErrNotFound)
	}
	return nil
}
