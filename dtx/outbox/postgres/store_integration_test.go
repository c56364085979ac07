//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lanepay/lib-dtx/dtx/outbox"
)

// setupPostgresContainer starts a disposable PostgreSQL container and returns
// the connection string plus a teardown function.
func setupPostgresContainer(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connStr, func() {
		require.NoError(t, container.Terminate(ctx))
	}
}

type storeFixture struct {
	db    *sql.DB
	store *Store
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	dsn, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	_, err = db.ExecContext(context.Background(), store.Schema())
	require.NoError(t, err)

	return &storeFixture{db: db, store: store}
}

func mustEvent(t *testing.T, aggregateID string) *outbox.Event {
	t.Helper()

	event, err := outbox.NewEvent("order.created", aggregateID, []byte(`{"ok":true}`))
	require.NoError(t, err)

	return event
}

func TestIntegration_Store_AppendAndListPending(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	first := mustEvent(t, "order-1")
	second := mustEvent(t, "order-2")

	require.NoError(t, fixture.store.Append(ctx, first))
	require.NoError(t, fixture.store.Append(ctx, second))

	pending, err := fixture.store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, outbox.StatusPending, pending[0].Status)
	assert.Equal(t, "order-1", pending[0].AggregateID)
	assert.JSONEq(t, `{"ok":true}`, string(pending[0].Payload))
	assert.Zero(t, pending[0].Attempts)
	assert.Nil(t, pending[0].SentAt)
}

func TestIntegration_Writer_Atomicity(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	_, err := fixture.db.ExecContext(ctx, `CREATE TABLE accounts (id TEXT PRIMARY KEY, balance NUMERIC NOT NULL)`)
	require.NoError(t, err)

	_, err = fixture.db.ExecContext(ctx, `INSERT INTO accounts (id, balance) VALUES ('alice', 100)`)
	require.NoError(t, err)

	writer, err := outbox.NewWriter(fixture.db, fixture.store)
	require.NoError(t, err)

	event := mustEvent(t, "alice")

	err = writer.Write(ctx, event, func(ctx context.Context, tx outbox.Tx) error {
		_, execErr := tx.ExecContext(ctx, `UPDATE accounts SET balance = balance - 10 WHERE id = 'alice'`)

		return execErr
	})
	require.NoError(t, err)

	pending, err := fixture.store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ID, pending[0].ID)

	var balance float64

	require.NoError(t, fixture.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = 'alice'`).Scan(&balance))
	assert.InDelta(t, 90, balance, 0.001)

	// A failing business write must leave neither row behind.
	failed := mustEvent(t, "alice")
	businessErr := errors.New("limit exceeded")

	err = writer.Write(ctx, failed, func(ctx context.Context, tx outbox.Tx) error {
		if _, execErr := tx.ExecContext(ctx, `UPDATE accounts SET balance = balance - 10 WHERE id = 'alice'`); execErr != nil {
			return execErr
		}

		return businessErr
	})
	require.ErrorIs(t, err, businessErr)

	pending, err = fixture.store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "rolled back event must not be stored")

	require.NoError(t, fixture.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = 'alice'`).Scan(&balance))
	assert.InDelta(t, 90, balance, 0.001, "rolled back debit must not apply")
}

func TestIntegration_Store_MarkSentLifecycle(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	event := mustEvent(t, "order-1")
	require.NoError(t, fixture.store.Append(ctx, event))

	sentAt := time.Now().UTC()
	require.NoError(t, fixture.store.MarkSent(ctx, event.ID, sentAt))

	pending, err := fixture.store.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "sent events must leave the pending scan")

	// A second settle of the same event has lost the PENDING guard.
	err = fixture.store.MarkSent(ctx, event.ID, time.Now().UTC())
	require.ErrorIs(t, err, ErrStateConflict)

	err = fixture.store.MarkFailed(ctx, event.ID, "late failure")
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestIntegration_Store_MarkFailedAndRetry(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	event := mustEvent(t, "order-1")
	require.NoError(t, fixture.store.Append(ctx, event))
	require.NoError(t, fixture.store.MarkFailed(ctx, event.ID, "broker unreachable"))

	pending, err := fixture.store.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed events must leave the pending scan")

	// Not reclaimable before the retry window has elapsed.
	reclaimed, err := fixture.store.ResetForRetry(ctx, 10, time.Now().UTC().Add(-time.Hour), 3)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	reclaimed, err = fixture.store.ResetForRetry(ctx, 10, time.Now().UTC().Add(time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	assert.Equal(t, event.ID, reclaimed[0].ID)
	assert.Equal(t, outbox.StatusPending, reclaimed[0].Status)
	assert.Equal(t, 1, reclaimed[0].Attempts)
	assert.Equal(t, "broker unreachable", reclaimed[0].LastError)

	// Exhausted events stay failed.
	require.NoError(t, fixture.store.MarkFailed(ctx, event.ID, "still failing"))

	reclaimed, err = fixture.store.ResetForRetry(ctx, 10, time.Now().UTC().Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "attempts at the ceiling must not be reclaimed")
}

func TestIntegration_Store_AppendInTxRollsBackWithCaller(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	tx, err := fixture.db.BeginTx(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, fixture.store.AppendInTx(ctx, tx, mustEvent(t, "order-1")))
	require.NoError(t, tx.Rollback())

	pending, err := fixture.store.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIntegration_Store_DuplicateIDRejected(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	event := mustEvent(t, "order-1")
	require.NoError(t, fixture.store.Append(ctx, event))

	duplicate, err := outbox.NewEventWithID(event.ID, "order.created", "order-1", []byte(`{}`))
	require.NoError(t, err)

	err = fixture.store.Append(ctx, duplicate)
	require.Error(t, err, "primary key must reject duplicate event ids")
}

func TestIntegration_RelayEndToEnd(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	event := mustEvent(t, "order-1")
	require.NoError(t, fixture.store.Append(ctx, event))

	var published []string

	relay, err := outbox.NewRelay(fixture.store, outbox.PublisherFunc(
		func(_ context.Context, _, key string, _ []byte) error {
			published = append(published, key)

			return nil
		},
	))
	require.NoError(t, err)

	result := relay.ScanOnce(ctx)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{"order-1"}, published)

	result = relay.ScanOnce(ctx)
	assert.Zero(t, result.Processed, "sent events must not be republished")
}
