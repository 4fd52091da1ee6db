package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shareit/internal/config"
	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	dialectPostgres = "postgres"
	tableBookings   = "bookings"

	colID        = "id"
	colItemID    = "item_id"
	colItemName  = "item_name"
	colBookerID  = "booker_id"
	colOwnerID   = "owner_id"
	colStartAt   = "start_at"
	colEndAt     = "end_at"
	colStatus    = "status"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
	colVersion   = "version"
)

var bookingCols = []any{
	colID, colItemID, colItemName, colBookerID, colOwnerID,
	colStartAt, colEndAt, colStatus, colCreatedAt, colUpdatedAt, colVersion,
}

var ErrBuildingQueryFailed = errors.New("building query failed")

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres reservation store. Item critical sections use transaction scoped advisory locks.
type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
	now    func() time.Time
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := NewStore(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("postgres store initialized")
	return s, nil
}

func NewStore(pool *pgxpool.Pool, logger *zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger, now: time.Now}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
        id BIGSERIAL PRIMARY KEY,
        item_id BIGINT NOT NULL,
        item_name TEXT NOT NULL DEFAULT '',
        booker_id BIGINT NOT NULL,
        owner_id BIGINT NOT NULL,
        start_at TIMESTAMPTZ NOT NULL,
        end_at TIMESTAMPTZ NOT NULL,
        status TEXT NOT NULL DEFAULT 'WAITING',
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        version BIGINT NOT NULL DEFAULT 1,
        CHECK (start_at < end_at),
        CHECK (booker_id <> owner_id)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_item_status ON bookings (item_id, status, end_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_booker_start ON bookings (booker_id, start_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_owner_start ON bookings (owner_id, start_at DESC)`,
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, s.pool, id)
}

func (s *Store) FindBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return findBookings(ctx, s.pool, filter)
}

func (s *Store) WithinItemLock(ctx context.Context, itemID int64, fn func(tx domain.BookingTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, itemID); err != nil {
		return fmt.Errorf("failed to lock item %d: %w", itemID, err)
	}

	if err := fn(&storeTx{tx: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type storeTx struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *storeTx) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *storeTx) FindBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return findBookings(ctx, t.tx, filter)
}

func (t *storeTx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	now := normalizeForInsert(booking, t.now())
	query, args, err := buildInsertQuery(booking, now)
	if err != nil {
		return err
	}

	var id int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (t *storeTx) UpdateBookingStatus(ctx context.Context, id, version int64, status models.Status) error {
	query, args, err := buildUpdateStatusQuery(id, version, status, toTimestamptz(t.now()))
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getBooking(ctx, t.tx, id); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

func getBooking(ctx context.Context, q querier, id int64) (*models.Booking, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(tableBookings).
		Select(bookingCols...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.Join(ErrBuildingQueryFailed, err)
	}

	b, err := scanBooking(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func findBookings(ctx context.Context, q querier, filter models.BookingFilter) ([]*models.Booking, error) {
	query, args, err := buildSelectQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, args...)
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

func buildSelectQuery(f models.BookingFilter) (string, []any, error) {
	where := make([]exp.Expression, 0)
	if f.BookerID != 0 {
		where = append(where, goqu.C(colBookerID).Eq(f.BookerID))
	}
	if f.OwnerID != 0 {
		where = append(where, goqu.C(colOwnerID).Eq(f.OwnerID))
	}
	if f.ItemID != 0 {
		where = append(where, goqu.C(colItemID).Eq(f.ItemID))
	}
	if f.Status != "" {
		where = append(where, goqu.C(colStatus).Eq(string(f.Status)))
	}
	if f.ExcludeID != 0 {
		where = append(where, goqu.C(colID).Neq(f.ExcludeID))
	}
	if !f.StartBefore.IsZero() {
		where = append(where, goqu.C(colStartAt).Lt(f.StartBefore))
	}
	if !f.StartAfter.IsZero() {
		where = append(where, goqu.C(colStartAt).Gt(f.StartAfter))
	}
	if !f.EndBefore.IsZero() {
		where = append(where, goqu.C(colEndAt).Lt(f.EndBefore))
	}
	if !f.EndAfter.IsZero() {
		where = append(where, goqu.C(colEndAt).Gt(f.EndAfter))
	}

	stmt := goqu.Dialect(dialectPostgres).
		From(tableBookings).
		Select(bookingCols...).
		Where(where...)

	if f.Order == models.StartAsc {
		stmt = stmt.Order(goqu.I(colStartAt).Asc(), goqu.I(colID).Asc())
	} else {
		stmt = stmt.Order(goqu.I(colStartAt).Desc(), goqu.I(colID).Desc())
	}
	if f.Limit > 0 {
		stmt = stmt.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		stmt = stmt.Offset(uint(f.Offset))
	}

	query, args, err := stmt.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQueryFailed, err)
	}
	return query, args, nil
}

// toTimestamptz drops what a TIMESTAMPTZ column cannot hold, so a booking echoed
// back after insert equals the one read later.
func toTimestamptz(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// normalizeForInsert truncates the booking interval in place and returns the insert time.
func normalizeForInsert(b *models.Booking, now time.Time) time.Time {
	b.Start = toTimestamptz(b.Start)
	b.End = toTimestamptz(b.End)
	return toTimestamptz(now)
}

func buildInsertQuery(b *models.Booking, now time.Time) (string, []any, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		Insert(tableBookings).
		Rows(goqu.Record{
			colItemID:    b.ItemID,
			colItemName:  b.ItemName,
			colBookerID:  b.BookerID,
			colOwnerID:   b.OwnerID,
			colStartAt:   toTimestamptz(b.Start),
			colEndAt:     toTimestamptz(b.End),
			colStatus:    string(b.Status),
			colCreatedAt: now,
			colUpdatedAt: now,
			colVersion:   1,
		}).
		Returning(colID).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQueryFailed, err)
	}
	return query, args, nil
}

func buildUpdateStatusQuery(id, version int64, status models.Status, now time.Time) (string, []any, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		Update(tableBookings).
		Set(goqu.Record{
			colStatus:    string(status),
			colUpdatedAt: now,
			colVersion:   goqu.L(colVersion + " + 1"),
		}).
		Where(goqu.Ex{colID: id, colVersion: version}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQueryFailed, err)
	}
	return query, args, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	var status string
	err := row.Scan(
		&b.ID, &b.ItemID, &b.ItemName, &b.BookerID, &b.OwnerID,
		&b.Start, &b.End, &status, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.Status(status)
	return &b, nil
}
