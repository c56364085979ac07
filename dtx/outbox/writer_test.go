//go:build unit

package outbox

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txState struct {
	begun      int
	committed  int
	rolledBack int
	execs      []string
	commitErr  error
}

type fakeConnector struct {
	state *txState
}

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{state: c.state}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("use OpenDB")
}

type fakeConn struct {
	state *txState
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.state.begun++

	return &fakeTx{state: c.state}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.state.execs = append(c.state.execs, query)

	return driver.RowsAffected(1), nil
}

type fakeTx struct {
	state *txState
}

func (tx *fakeTx) Commit() error {
	if tx.state.commitErr != nil {
		return tx.state.commitErr
	}

	tx.state.committed++

	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.state.rolledBack++

	return nil
}

type appendRecorder struct {
	fakeStore
	appendInTxErr error
	appended      []*Event
}

func (s *appendRecorder) AppendInTx(_ context.Context, _ Tx, event *Event) error {
	if s.appendInTxErr != nil {
		return s.appendInTxErr
	}

	s.appended = append(s.appended, event)

	return nil
}

func newWriterFixture(t *testing.T) (*Writer, *appendRecorder, *txState) {
	t.Helper()

	state := &txState{}
	db := sql.OpenDB(&fakeConnector{state: state})
	t.Cleanup(func() { _ = db.Close() })

	store := &appendRecorder{}

	writer, err := NewWriter(db, store)
	require.NoError(t, err)

	return writer, store, state
}

func TestNewWriterValidation(t *testing.T) {
	_, err := NewWriter(nil, &appendRecorder{})
	require.ErrorIs(t, err, ErrDBRequired)

	db := sql.OpenDB(&fakeConnector{state: &txState{}})
	defer db.Close()

	_, err = NewWriter(db, nil)
	require.ErrorIs(t, err, ErrStoreRequired)
}

func TestWriterCommitsBusinessWriteAndEvent(t *testing.T) {
	writer, store, state := newWriterFixture(t)
	event := mustEvent(t, "order.created", "order-1")

	err := writer.Write(context.Background(), event, func(ctx context.Context, tx Tx) error {
		_, execErr := tx.ExecContext(ctx, "UPDATE orders SET state = 'created'")

		return execErr
	})
	require.NoError(t, err)

	assert.Equal(t, 1, state.begun)
	assert.Equal(t, 1, state.committed)
	assert.Zero(t, state.rolledBack)
	assert.Len(t, state.execs, 1)
	require.Len(t, store.appended, 1)
	assert.Equal(t, event.ID, store.appended[0].ID)
}

func TestWriterRollsBackOnBusinessError(t *testing.T) {
	writer, store, state := newWriterFixture(t)
	businessErr := errors.New("insufficient funds")

	err := writer.Write(context.Background(), mustEvent(t, "order.created", "order-1"),
		func(context.Context, Tx) error { return businessErr })
	require.ErrorIs(t, err, businessErr)

	assert.Zero(t, state.committed)
	assert.Equal(t, 1, state.rolledBack)
	assert.Empty(t, store.appended, "event append must not run after a business failure")
}

func TestWriterRollsBackWhenWorkPanics(t *testing.T) {
	writer, store, state := newWriterFixture(t)

	require.PanicsWithValue(t, "work exploded", func() {
		_ = writer.Write(context.Background(), mustEvent(t, "order.created", "order-1"),
			func(context.Context, Tx) error { panic("work exploded") })
	})

	assert.Zero(t, state.committed)
	assert.Equal(t, 1, state.rolledBack, "an escaping panic must not leave the transaction open")
	assert.Empty(t, store.appended)
}

func TestWriterRollsBackOnAppendError(t *testing.T) {
	writer, store, state := newWriterFixture(t)
	store.appendInTxErr = errors.New("unique violation")

	err := writer.Write(context.Background(), mustEvent(t, "order.created", "order-1"), nil)
	require.ErrorIs(t, err, store.appendInTxErr)

	assert.Zero(t, state.committed)
	assert.Equal(t, 1, state.rolledBack)
}

func TestWriterSurfacesCommitError(t *testing.T) {
	writer, _, state := newWriterFixture(t)
	state.commitErr = errors.New("serialization failure")

	err := writer.Write(context.Background(), mustEvent(t, "order.created", "order-1"), nil)
	require.ErrorIs(t, err, state.commitErr)
	assert.Zero(t, state.committed)
}

func TestWriterRejectsNilEvent(t *testing.T) {
	writer, _, state := newWriterFixture(t)

	err := writer.Write(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrEventRequired)
	assert.Zero(t, state.begun)
}

func TestWriterAllowsNilWork(t *testing.T) {
	writer, store, state := newWriterFixture(t)

	err := writer.Write(context.Background(), mustEvent(t, "order.created", "order-1"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, state.committed)
	assert.Len(t, store.appended, 1)
}
