package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is the PostgreSQL advisory lock that serializes ledger
// writers. It must be identical across every process sharing the database.
const advisoryLockKey = int64(2_076_115_301)

const uniqueViolation = "23505"

// PostgresStore persists the ledger to PostgreSQL. It implements Store.
//
// Listing ids are allocated as COUNT(*)+1 while the advisory lock is held
// rather than from a sequence, because sequences skip values on rollback.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Update implements Store. fn runs inside a transaction that first takes a
// transaction-scoped advisory lock; the lock is released on commit or rollback.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{pgReader{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// View implements Store using a read-only REPEATABLE READ transaction so that
// multi-statement queries see a single snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(pgReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

func (r pgReader) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

func (r pgReader) Listing(ctx context.Context, id int64) (*Listing, error) {
	l := &Listing{}
	err := r.q.QueryRow(ctx,
		`SELECT id, title, description, locator, owner, price, created_at, active
		 FROM listings WHERE id = $1`, id,
	).Scan(&l.ID, &l.Title, &l.Description, &l.Locator, &l.Owner, &l.Price, &l.CreatedAt, &l.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %d: %w", id, err)
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}

func (r pgReader) HasPurchase(ctx context.Context, principal string, id int64) (bool, error) {
	var exists bool
	if err := r.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM purchases WHERE principal = $1 AND listing_id = $2)`,
		principal, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}
	return exists, nil
}

func (r pgReader) ListingIDsByOwner(ctx context.Context, owner string) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM listings WHERE owner = $1 ORDER BY id ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list owner listings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan owner listings: %w", err)
	}
	return ids, nil
}

const eventColumns = `seq, kind, listing_id, actor, payload, ts, data_hash, prev_hash, hash`

func (r pgReader) Events(ctx context.Context, after int64, limit int) ([]*Event, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r pgReader) LastEvent(ctx context.Context) (*Event, error) {
	row := r.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM ledger_events ORDER BY seq DESC LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		e       Event
		kind    string
		payload []byte
	)
	if err := row.Scan(
		&e.Seq, &kind, &e.ListingID, &e.Actor, &payload,
		&e.Timestamp, &e.DataHash, &e.PrevHash, &e.Hash,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = EventKind(kind)
	e.Payload = json.RawMessage(payload)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

type pgTx struct {
	pgReader
}

func (tx *pgTx) InsertListing(ctx context.Context, l *Listing) error {
	n, err := tx.Count(ctx)
	if err != nil {
		return err
	}
	l.ID = n + 1
	if _, err := tx.q.Exec(ctx,
		`INSERT INTO listings (id, title, description, locator, owner, price, created_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.Title, l.Description, l.Locator, l.Owner, l.Price, l.CreatedAt, l.Active,
	); err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (tx *pgTx) SaveListing(ctx context.Context, l *Listing) error {
	tag, err := tx.q.Exec(ctx,
		`UPDATE listings SET title = $2, description = $3, price = $4, active = $5 WHERE id = $1`,
		l.ID, l.Title, l.Description, l.Price, l.Active,
	)
	if err != nil {
		return fmt.Errorf("update listing %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, l.ID)
	}
	return nil
}

func (tx *pgTx) InsertPurchase(ctx context.Context, p *Purchase) error {
	_, err := tx.q.Exec(ctx,
		`INSERT INTO purchases (principal, listing_id, amount_paid, transfer_ref, receipt_id, purchased_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.Principal, p.ListingID, p.AmountPaid, p.TransferRef, p.ReceiptID, p.PurchasedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: duplicate purchase entry", ErrAlreadyPurchased)
	}
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (tx *pgTx) AppendEvent(ctx context.Context, e *Event) error {
	if _, err := tx.q.Exec(ctx,
		`INSERT INTO ledger_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Seq, string(e.Kind), e.ListingID, e.Actor, []byte(e.Payload),
		e.Timestamp, e.DataHash, e.PrevHash, e.Hash,
	); err != nil {
		return fmt.Errorf("insert event %d: %w", e.Seq, err)
	}
	return nil
}
