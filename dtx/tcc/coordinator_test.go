//go:build unit

package tcc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBranch struct {
	id         string
	confirmErr error
	cancelErr  error

	mu       sync.Mutex
	confirms int
	cancels  int
}

func (b *fakeBranch) ID() string { return b.id }

func (b *fakeBranch) Confirm(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.confirms++

	return b.confirmErr
}

func (b *fakeBranch) Cancel(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancels++

	return b.cancelErr
}

func TestCommitConfirmsBranchesInOrder(t *testing.T) {
	coordinator := NewCoordinator()
	ctx := context.Background()

	require.NoError(t, coordinator.Begin("tx-1"))

	first := &fakeBranch{id: "first"}
	second := &fakeBranch{id: "second"}
	require.NoError(t, coordinator.RegisterBranch("tx-1", first))
	require.NoError(t, coordinator.RegisterBranch("tx-1", second))

	report := coordinator.Commit(ctx, "tx-1")

	require.True(t, report.OK())
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "first", report.Outcomes[0].BranchID)
	assert.Equal(t, "second", report.Outcomes[1].BranchID)
	assert.Equal(t, 1, first.confirms)
	assert.Equal(t, 1, second.confirms)
	assert.Equal(t, 0, first.cancels)
	assert.False(t, coordinator.Active("tx-1"))
}

func TestRollbackCancelsBranches(t *testing.T) {
	coordinator := NewCoordinator()
	ctx := context.Background()

	require.NoError(t, coordinator.Begin("tx-1"))

	branch := &fakeBranch{id: "only"}
	require.NoError(t, coordinator.RegisterBranch("tx-1", branch))

	report := coordinator.Rollback(ctx, "tx-1")

	require.True(t, report.OK())
	assert.Equal(t, PhaseCancel, report.Phase)
	assert.Equal(t, 1, branch.cancels)
	assert.Equal(t, 0, branch.confirms)
}

func TestCommitContinuesPastFailingBranch(t *testing.T) {
	coordinator := NewCoordinator()
	ctx := context.Background()

	failing := &fakeBranch{id: "failing", confirmErr: errors.New("confirm boom")}
	healthy := &fakeBranch{id: "healthy"}

	require.NoError(t, coordinator.Begin("tx-1"))
	require.NoError(t, coordinator.RegisterBranch("tx-1", failing))
	require.NoError(t, coordinator.RegisterBranch("tx-1", healthy))

	report := coordinator.Commit(ctx, "tx-1")

	assert.False(t, report.OK())
	assert.Equal(t, 1, healthy.confirms, "sweep must continue past a failure")

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "failing", failed[0].BranchID)
	require.Error(t, failed[0].Err)
}

func TestCommitMissingContextIsNoOp(t *testing.T) {
	coordinator := NewCoordinator()

	report := coordinator.Commit(context.Background(), "unknown")

	assert.True(t, report.Missing)
	assert.False(t, report.OK())
	assert.Empty(t, report.Outcomes)
}

func TestCommitTwiceSecondIsNoOp(t *testing.T) {
	coordinator := NewCoordinator()
	ctx := context.Background()

	branch := &fakeBranch{id: "b"}
	require.NoError(t, coordinator.Begin("tx-1"))
	require.NoError(t, coordinator.RegisterBranch("tx-1", branch))

	first := coordinator.Commit(ctx, "tx-1")
	second := coordinator.Commit(ctx, "tx-1")

	assert.True(t, first.OK())
	assert.True(t, second.Missing)
	assert.Equal(t, 1, branch.confirms)
}

func TestRegisterBranchWithoutBeginCreatesContext(t *testing.T) {
	coordinator := NewCoordinator()

	branch := &fakeBranch{id: "lenient"}
	require.NoError(t, coordinator.RegisterBranch("tx-implicit", branch))
	assert.True(t, coordinator.Active("tx-implicit"))

	report := coordinator.Commit(context.Background(), "tx-implicit")
	require.True(t, report.OK())
	assert.Equal(t, 1, branch.confirms)
}

func TestBeginOverwriteDiscardsBranches(t *testing.T) {
	coordinator := NewCoordinator()

	stale := &fakeBranch{id: "stale"}
	require.NoError(t, coordinator.Begin("tx-1"))
	require.NoError(t, coordinator.RegisterBranch("tx-1", stale))

	require.NoError(t, coordinator.Begin("tx-1"))

	report := coordinator.Commit(context.Background(), "tx-1")
	assert.True(t, report.OK())
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 0, stale.confirms)
}

func TestBeginRejectDuplicatePolicy(t *testing.T) {
	coordinator := NewCoordinator(WithDuplicateBeginPolicy(RejectDuplicate))

	kept := &fakeBranch{id: "kept"}
	require.NoError(t, coordinator.Begin("tx-1"))
	require.NoError(t, coordinator.RegisterBranch("tx-1", kept))

	require.ErrorIs(t, coordinator.Begin("tx-1"), ErrDuplicateTransaction)

	// The original context survives a rejected Begin.
	report := coordinator.Commit(context.Background(), "tx-1")
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, kept.confirms)
}

func TestInputValidation(t *testing.T) {
	coordinator := NewCoordinator()

	require.ErrorIs(t, coordinator.Begin("  "), ErrTxIDRequired)
	require.ErrorIs(t, coordinator.RegisterBranch("", &fakeBranch{id: "b"}), ErrTxIDRequired)
	require.ErrorIs(t, coordinator.RegisterBranch("tx", nil), ErrNilBranch)
}

func TestConcurrentTransactionsAreIndependent(t *testing.T) {
	coordinator := NewCoordinator()
	ctx := context.Background()

	const transactions = 64

	var wg sync.WaitGroup

	branches := make([]*fakeBranch, transactions)

	for i := range transactions {
		branches[i] = &fakeBranch{id: fmt.Sprintf("branch-%d", i)}

		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			txID := fmt.Sprintf("tx-%d", i)
			require.NoError(t, coordinator.Begin(txID))
			require.NoError(t, coordinator.RegisterBranch(txID, branches[i]))

			if i%2 == 0 {
				coordinator.Commit(ctx, txID)
			} else {
				coordinator.Rollback(ctx, txID)
			}
		}(i)
	}

	wg.Wait()

	for i, branch := range branches {
		if i%2 == 0 {
			assert.Equal(t, 1, branch.confirms)
		} else {
			assert.Equal(t, 1, branch.cancels)
		}
	}
}
