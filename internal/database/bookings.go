package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, owner_id, date, time, duration_hours, total, payment_status, status,
	decline_reason, equipment, cdj_count, calendar_event_id, user_name, user_email,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b         models.Booking
		equipment string
	)
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Date, &b.Time, &b.DurationHours, &b.Total, &b.PaymentStatus, &b.Status,
		&b.DeclineReason, &equipment, &b.CDJCount, &b.CalendarEventID, &b.UserName, &b.UserEmail,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if equipment != "" {
		if err := json.Unmarshal([]byte(equipment), &b.Equipment); err != nil {
			return nil, fmt.Errorf("decode equipment of booking %s: %w", b.ID, err)
		}
	}
	if b.Equipment == nil {
		b.Equipment = []models.Equipment{}
	}
	return &b, nil
}

func encodeEquipment(eq []models.Equipment) (string, error) {
	if eq == nil {
		eq = []models.Equipment{}
	}
	data, err := json.Marshal(eq)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateBooking inserts b, assigning its id, timestamps and version.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1

	equipment, err := encodeEquipment(b.Equipment)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.Date, b.Time, b.DurationHours, b.Total, b.PaymentStatus, b.Status,
		b.DeclineReason, equipment, b.CDJCount, b.CalendarEventID, b.UserName, b.UserEmail,
		b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetBooking loads the booking id owned by ownerID.
func (db *DB) GetBooking(ctx context.Context, ownerID, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND owner_id = ?`, id, ownerID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

// FindBooking loads a booking by id regardless of owner.
func (db *DB) FindBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

// UpdateBooking writes every mutable field of b except the calendar event id,
// guarded by b.Version. On success b.Version and b.UpdatedAt are advanced.
func (db *DB) UpdateBooking(ctx context.Context, b *models.Booking) error {
	equipment, err := encodeEquipment(b.Equipment)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := db.ExecContext(ctx, `UPDATE bookings SET
			date = ?, time = ?, duration_hours = ?, total = ?, payment_status = ?, status = ?,
			decline_reason = ?, equipment = ?, cdj_count = ?, user_name = ?, user_email = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND owner_id = ? AND version = ?`,
		b.Date, b.Time, b.DurationHours, b.Total, b.PaymentStatus, b.Status,
		b.DeclineReason, equipment, b.CDJCount, b.UserName, b.UserEmail,
		now, b.ID, b.OwnerID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := db.GetBooking(ctx, b.OwnerID, b.ID); err != nil {
			return err
		}
		return fmt.Errorf("booking %s: %w", b.ID, ErrConcurrentModification)
	}

	b.Version++
	b.UpdatedAt = now
	return nil
}

// AttachCalendarEvent records eventID as the calendar mirror of an open
// booking that has none. It returns ErrCalendarEventConflict when another
// event is already on record or the booking was closed or deleted meanwhile,
// in which case the caller owns eventID and must remove it. The version is
// not bumped.
func (db *DB) AttachCalendarEvent(ctx context.Context, ownerID, id, eventID string) error {
	res, err := db.ExecContext(ctx, `UPDATE bookings SET calendar_event_id = ?
		WHERE id = ? AND owner_id = ? AND calendar_event_id = '' AND status IN (?, ?)`,
		eventID, id, ownerID, models.StatusWaitingForConfirmation, models.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("attach calendar event: %w", err)
	}
	return calendarRowsAffected(res, id)
}

// DetachCalendarEvent clears the calendar mirror of a booking if it is still
// eventID.
func (db *DB) DetachCalendarEvent(ctx context.Context, ownerID, id, eventID string) error {
	res, err := db.ExecContext(ctx, `UPDATE bookings SET calendar_event_id = ''
		WHERE id = ? AND owner_id = ? AND calendar_event_id = ?`, id, ownerID, eventID)
	if err != nil {
		return fmt.Errorf("detach calendar event: %w", err)
	}
	return calendarRowsAffected(res, id)
}

func calendarRowsAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("booking %s: %w", id, ErrCalendarEventConflict)
	}
	return nil
}

// DeleteBooking removes the booking and returns the deleted record.
func (db *DB) DeleteBooking(ctx context.Context, ownerID, id string) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND owner_id = ?`, id, ownerID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ? AND owner_id = ?`, id, ownerID); err != nil {
		return nil, fmt.Errorf("delete booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListBookings returns all bookings across owners, newest date first.
func (db *DB) ListBookings(ctx context.Context) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings ORDER BY date DESC, time DESC`)
}

// ListBookingsByOwner returns the bookings of one owner, newest date first.
func (db *DB) ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE owner_id = ? ORDER BY date DESC, time DESC`, ownerID)
}

// ListBookingsByDate returns the bookings on date across owners.
func (db *DB) ListBookingsByDate(ctx context.Context, date string) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE date = ? ORDER BY time`, date)
}

// ListMissingCalendarEvents returns non-terminal bookings created before
// createdBefore that have no calendar event.
func (db *DB) ListMissingCalendarEvents(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE calendar_event_id = '' AND status IN (?, ?) AND created_at < ?
		ORDER BY created_at LIMIT ?`,
		models.StatusWaitingForConfirmation, models.StatusConfirmed, createdBefore.UTC(), limit)
}
