package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	// Registers the pgx stdlib driver used by Open.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lanepay/lib-dtx/dtx/log"
	"github.com/lanepay/lib-dtx/dtx/outbox"
)

var (
	ErrConnectionRequired        = errors.New("postgres connection is required")
	ErrStateConflict             = errors.New("outbox event state transition conflict")
	ErrLimitMustBePositive       = errors.New("limit must be greater than zero")
	ErrIDRequired                = errors.New("id is required")
	ErrMaxAttemptsMustBePositive = errors.New("maxAttempts must be greater than zero")
	ErrInvalidIdentifier         = errors.New("invalid sql identifier")
)

const (
	defaultTableName    = "outbox_events"
	defaultQueryTimeout = 30 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const outboxColumns = "id, aggregate_id, event_type, payload, status, attempts, last_error, sent_at, created_at, updated_at"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger log.Logger) Option {
	return func(store *Store) {
		if logger != nil {
			store.logger = logger
		}
	}
}

// WithTableName overrides the outbox table name.
func WithTableName(tableName string) Option {
	return func(store *Store) {
		store.tableName = tableName
	}
}

// WithTracer sets the tracer used for store spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(store *Store) {
		if tracer != nil {
			store.tracer = tracer
		}
	}
}

// WithQueryTimeout bounds store operations that run without a caller deadline.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(store *Store) {
		if timeout > 0 {
			store.queryTimeout = timeout
		}
	}
}

// Store persists outbox events in PostgreSQL.
type Store struct {
	db           *sql.DB
	logger       log.Logger
	tracer       trace.Tracer
	tableName    string
	queryTimeout time.Duration
}

var _ outbox.Store = (*Store)(nil)

// NewStore creates a PostgreSQL outbox store over an open database handle.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrConnectionRequired
	}

	store := &Store{
		db:           db,
		logger:       log.NewNop(),
		tracer:       noop.NewTracerProvider().Tracer("dtx.noop"),
		tableName:    defaultTableName,
		queryTimeout: defaultQueryTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	store.tableName = strings.TrimSpace(store.tableName)
	if store.tableName == "" {
		store.tableName = defaultTableName
	}

	if !identifierPattern.MatchString(store.tableName) {
		return nil, fmt.Errorf("table name %q: %w", store.tableName, ErrInvalidIdentifier)
	}

	return store, nil
}

// Open opens a pooled database handle through the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

// Schema returns the DDL for the outbox table. Callers run it through their
// migration tooling; the store never executes it on its own.
func (store *Store) Schema() string {
	table := store.quotedTable()

	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    id          UUID PRIMARY KEY,
    aggregate_id TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    payload     JSONB NOT NULL,
    status      TEXT NOT NULL DEFAULT 'PENDING'
                CHECK (status IN ('PENDING', 'SENT', 'FAILED')),
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT,
    sent_at     TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_` + store.tableName + `_pending
    ON ` + table + ` (created_at)
    WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS idx_` + store.tableName + `_failed
    ON ` + table + ` (updated_at)
    WHERE status = 'FAILED';
`
}

// Append inserts a pending event in its own short transaction.
func (store *Store) Append(ctx context.Context, event *outbox.Event) error {
	ctx, cancel := store.opContext(ctx)
	defer cancel()

	ctx, span := store.tracer.Start(ctx, "postgres.outbox_append")
	defer span.End()

	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := store.AppendInTx(ctx, tx, event); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// AppendInTx inserts a pending event inside the caller's transaction.
func (store *Store) AppendInTx(ctx context.Context, tx outbox.Tx, event *outbox.Event) error {
	if store == nil || store.db == nil {
		return ErrConnectionRequired
	}

	if tx == nil {
		return outbox.ErrDBRequired
	}

	if event == nil {
		return outbox.ErrEventRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	status := event.Status
	if status == "" {
		status = outbox.StatusPending
	}

	query := "INSERT INTO " + store.quotedTable() +
		" (" + outboxColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"

	_, err := tx.ExecContext(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.Payload,
		status,
		event.Attempts,
		nullString(event.LastError),
		event.SentAt,
		createdAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}

	return nil
}

// ListPending returns up to limit pending events in creation order. Rows are
// locked with SKIP LOCKED for the duration of the internal transaction so
// concurrent relays mostly avoid double reads; at-least-once remains the
// delivery contract.
func (store *Store) ListPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	if store == nil || store.db == nil {
		return nil, ErrConnectionRequired
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	ctx, cancel := store.opContext(ctx)
	defer cancel()

	ctx, span := store.tracer.Start(ctx, "postgres.outbox_list_pending")
	defer span.End()

	query := "SELECT " + outboxColumns + " FROM " + store.quotedTable() +
		" WHERE status = $1 ORDER BY created_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED"

	events, err := store.queryEventsInTx(ctx, query, outbox.StatusPending, limit)
	if err != nil {
		log.SafeError(store.logger, ctx, "failed to list pending outbox events", err)

		return nil, fmt.Errorf("listing pending events: %w", err)
	}

	return events, nil
}

// MarkSent transitions an event PENDING -> SENT. A zero affected-row count
// means the event was not pending anymore and surfaces as ErrStateConflict.
func (store *Store) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	if store == nil || store.db == nil {
		return ErrConnectionRequired
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	ctx, cancel := store.opContext(ctx)
	defer cancel()

	ctx, span := store.tracer.Start(ctx, "postgres.outbox_mark_sent")
	defer span.End()

	query := "UPDATE " + store.quotedTable() +
		" SET status = $1, sent_at = $2, updated_at = $3 WHERE id = $4 AND status = $5"

	result, err := store.db.ExecContext(ctx, query,
		outbox.StatusSent, sentAt.UTC(), time.Now().UTC(), id, outbox.StatusPending,
	)
	if err != nil {
		log.SafeError(store.logger, ctx, "failed to mark outbox event sent", err)

		return fmt.Errorf("marking sent: %w", err)
	}

	return ensureRowsAffected(result)
}

// MarkFailed transitions an event PENDING -> FAILED, incrementing the attempt
// counter and recording the last error.
func (store *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if store == nil || store.db == nil {
		return ErrConnectionRequired
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	ctx, cancel := store.opContext(ctx)
	defer cancel()

	ctx, span := store.tracer.Start(ctx, "postgres.outbox_mark_failed")
	defer span.End()

	query := "UPDATE " + store.quotedTable() +
		" SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = $3" +
		" WHERE id = $4 AND status = $5"

	result, err := store.db.ExecContext(ctx, query,
		outbox.StatusFailed, nullString(errMsg), time.Now().UTC(), id, outbox.StatusPending,
	)
	if err != nil {
		log.SafeError(store.logger, ctx, "failed to mark outbox event failed", err)

		return fmt.Errorf("marking failed: %w", err)
	}

	return ensureRowsAffected(result)
}

// ResetForRetry reclaims up to limit FAILED events older than failedBefore
// with attempts below maxAttempts, flipping them back to PENDING in one
// statement and returning the reclaimed rows.
func (store *Store) ResetForRetry(ctx context.Context, limit int, failedBefore time.Time, maxAttempts int) ([]*outbox.Event, error) {
	if store == nil || store.db == nil {
		return nil, ErrConnectionRequired
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	ctx, cancel := store.opContext(ctx)
	defer cancel()

	ctx, span := store.tracer.Start(ctx, "postgres.outbox_reset_for_retry")
	defer span.End()

	table := store.quotedTable()
	query := "WITH picked AS (" +
		" SELECT id FROM " + table +
		" WHERE status = $1 AND updated_at < $2 AND attempts < $3" +
		" ORDER BY updated_at ASC LIMIT $4 FOR UPDATE SKIP LOCKED" +
		") UPDATE " + table + " AS e SET status = $5, updated_at = $6" +
		" FROM picked WHERE e.id = picked.id" +
		" RETURNING e.id, e.aggregate_id, e.event_type, e.payload, e.status, e.attempts, e.last_error, e.sent_at, e.created_at, e.updated_at"

	rows, err := store.db.QueryContext(ctx, query,
		outbox.StatusFailed, failedBefore.UTC(), maxAttempts, limit,
		outbox.StatusPending, time.Now().UTC(),
	)
	if err != nil {
		log.SafeError(store.logger, ctx, "failed to reset outbox events for retry", err)

		return nil, fmt.Errorf("resetting events for retry: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	return collectEvents(rows, limit)
}

func (store *Store) queryEventsInTx(ctx context.Context, query string, args ...any) ([]*outbox.Event, error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events, err := collectEvents(rows, 0)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return events, nil
}

func (store *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, store.queryTimeout)
}

func (store *Store) quotedTable() string {
	return `"` + store.tableName + `"`
}

func collectEvents(rows *sql.Rows, capacityHint int) ([]*outbox.Event, error) {
	events := make([]*outbox.Event, 0, capacityHint)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox rows: %w", err)
	}

	return events, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*outbox.Event, error) {
	var event outbox.Event

	var lastError sql.NullString

	if err := scanner.Scan(
		&event.ID,
		&event.AggregateID,
		&event.EventType,
		&event.Payload,
		&event.Status,
		&event.Attempts,
		&lastError,
		&event.SentAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning outbox event: %w", err)
	}

	if lastError.Valid {
		event.LastError = lastError.String
	}

	return &event, nil
}

func ensureRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return ErrStateConflict
	}

	return nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: value, Valid: true}
}
