package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const bookingColumns = `id, item_id, item_name, booker_id, owner_id, start_ts, end_ts, status, created_at, updated_at, version`

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db.DB, id)
}

func (db *DB) FindBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return findBookings(ctx, db.DB, filter)
}

// WithinItemLock runs fn in an immediate transaction, which holds the database write lock.
func (db *DB) WithinItemLock(ctx context.Context, itemID int64, fn func(tx domain.BookingTx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&bookingTx{tx: tx, now: time.Now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type bookingTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *bookingTx) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *bookingTx) FindBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return findBookings(ctx, t.tx, filter)
}

func (t *bookingTx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
                item_id, item_name, booker_id, owner_id, start_ts, end_ts,
                status, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := t.now()
	result, err := t.tx.ExecContext(ctx, query,
		booking.ItemID,
		booking.ItemName,
		booking.BookerID,
		booking.OwnerID,
		booking.Start.UnixNano(),
		booking.End.UnixNano(),
		string(booking.Status),
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (t *bookingTx) UpdateBookingStatus(ctx context.Context, id, version int64, status models.Status) error {
	query := `UPDATE bookings SET status = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ?`
	result, err := t.tx.ExecContext(ctx, query, string(status), t.now(), id, version)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := getBooking(ctx, t.tx, id); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

func getBooking(ctx context.Context, q querier, id int64) (*models.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func findBookings(ctx context.Context, q querier, filter models.BookingFilter) ([]*models.Booking, error) {
	query, args := buildFindQuery(filter)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

func buildFindQuery(f models.BookingFilter) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}

	if f.BookerID != 0 {
		add("booker_id = ?", f.BookerID)
	}
	if f.OwnerID != 0 {
		add("owner_id = ?", f.OwnerID)
	}
	if f.ItemID != 0 {
		add("item_id = ?", f.ItemID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.ExcludeID != 0 {
		add("id <> ?", f.ExcludeID)
	}
	if !f.StartBefore.IsZero() {
		add("start_ts < ?", f.StartBefore.UnixNano())
	}
	if !f.StartAfter.IsZero() {
		add("start_ts > ?", f.StartAfter.UnixNano())
	}
	if !f.EndBefore.IsZero() {
		add("end_ts < ?", f.EndBefore.UnixNano())
	}
	if !f.EndAfter.IsZero() {
		add("end_ts > ?", f.EndAfter.UnixNano())
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + bookingColumns + ` FROM bookings`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if f.Order == models.StartAsc {
		sb.WriteString(" ORDER BY start_ts ASC, id ASC")
	} else {
		sb.WriteString(" ORDER BY start_ts DESC, id DESC")
	}
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, f.Offset)
	}
	return sb.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var start, end int64
	var status string
	err := row.Scan(
		&b.ID, &b.ItemID, &b.ItemName, &b.BookerID, &b.OwnerID,
		&start, &end, &status, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Start = time.Unix(0, start).UTC()
	b.End = time.Unix(0, end).UTC()
	b.Status = models.Status(status)
	return &b, nil
}
