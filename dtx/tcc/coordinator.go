package tcc

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lanepay/lib-dtx/dtx/log"
)

var (
	// ErrTxIDRequired is returned when a transaction id is empty.
	ErrTxIDRequired = errors.New("transaction id is required")
	// ErrNilBranch is returned when a nil branch action is registered.
	ErrNilBranch = errors.New("branch action is required")
	// ErrDuplicateTransaction is returned by Begin under RejectDuplicate
	// when the transaction id is already active.
	ErrDuplicateTransaction = errors.New("transaction id is already active")
)

// DuplicateBeginPolicy decides what Begin does when the transaction id is
// already active.
type DuplicateBeginPolicy int

const (
	// OverwriteOnDuplicate silently replaces the existing context,
	// discarding its branch registrations.
	OverwriteOnDuplicate DuplicateBeginPolicy = iota
	// RejectDuplicate makes Begin return ErrDuplicateTransaction and keep
	// the existing context untouched.
	RejectDuplicate
)

// Coordinator tracks in-flight global transaction contexts and drives
// Confirm or Cancel across their registered branches.
//
// All state is held on the instance; there is no package-level registry.
// The registry is safe for concurrent use across transactions.
type Coordinator struct {
	mu       sync.Mutex
	contexts map[string]*txContext
	logger   log.Logger
	tracer   trace.Tracer
	onDup    DuplicateBeginPolicy
}

type txContext struct {
	branches []BranchAction
}

// Option mutates coordinator configuration at construction.
type Option func(*Coordinator)

// WithLogger sets the logger used for per-branch failure logging.
func WithLogger(logger log.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for completion spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithDuplicateBeginPolicy sets the Begin behavior for already-active ids.
func WithDuplicateBeginPolicy(policy DuplicateBeginPolicy) Option {
	return func(c *Coordinator) {
		c.onDup = policy
	}
}

// NewCoordinator creates a coordinator with an empty registry.
func NewCoordinator(opts ...Option) *Coordinator {
	coordinator := &Coordinator{
		contexts: make(map[string]*txContext),
		logger:   log.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("dtx.noop"),
		onDup:    OverwriteOnDuplicate,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(coordinator)
		}
	}

	return coordinator
}

// Begin creates a new global transaction context keyed by txID.
//
// Under the default OverwriteOnDuplicate policy, re-beginning an active id
// replaces its context and discards prior branch registrations. Under
// RejectDuplicate it returns ErrDuplicateTransaction instead.
func (c *Coordinator) Begin(txID string) error {
	if strings.TrimSpace(txID) == "" {
		return ErrTxIDRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.contexts[txID]; exists {
		if c.onDup == RejectDuplicate {
			return ErrDuplicateTransaction
		}

		c.logger.Log(context.Background(), log.LevelWarn,
			"transaction re-begun; prior branch registrations discarded",
			log.String("tx_id", txID))
	}

	c.contexts[txID] = &txContext{}

	return nil
}

// RegisterBranch appends action to the transaction's branch list, creating
// the context on first use if Begin was not called.
//
// A RegisterBranch racing Commit or Rollback on the same txID has undefined
// membership: the branch lands either in the sweep or in a fresh context
// that nothing will ever commit. Callers must serialize registration with
// completion per transaction id.
func (c *Coordinator) RegisterBranch(txID string, action BranchAction) error {
	if strings.TrimSpace(txID) == "" {
		return ErrTxIDRequired
	}

	if action == nil {
		return ErrNilBranch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, exists := c.contexts[txID]
	if !exists {
		tx = &txContext{}
		c.contexts[txID] = tx
	}

	tx.branches = append(tx.branches, action)

	return nil
}

// Commit removes the context and invokes Confirm on each registered branch
// in registration order. Branch failures are logged, captured in the
// report, and never abort the sweep. A missing context is a no-op reported
// via Report.Missing.
func (c *Coordinator) Commit(ctx context.Context, txID string) Report {
	return c.complete(ctx, txID, PhaseConfirm)
}

// Rollback removes the context and invokes Cancel on each registered
// branch, with the same per-branch failure isolation as Commit.
func (c *Coordinator) Rollback(ctx context.Context, txID string) Report {
	return c.complete(ctx, txID, PhaseCancel)
}

// Active reports whether txID currently has a registered context.
func (c *Coordinator) Active(txID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.contexts[txID]

	return exists
}

func (c *Coordinator) complete(ctx context.Context, txID string, phase Phase) Report {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := c.tracer.Start(ctx, "tcc."+string(phase),
		trace.WithAttributes(attribute.String("tx_id", txID)))
	defer span.End()

	report := Report{TxID: txID, Phase: phase}

	c.mu.Lock()
	tx, exists := c.contexts[txID]
	delete(c.contexts, txID)
	c.mu.Unlock()

	if !exists {
		report.Missing = true

		return report
	}

	// Sequential, best-effort fan-out: a failing branch must not block its
	// siblings, and overall success is reported, not enforced.
	for _, branch := range tx.branches {
		var err error

		switch phase {
		case PhaseConfirm:
			err = branch.Confirm(ctx)
		case PhaseCancel:
			err = branch.Cancel(ctx)
		}

		if err != nil {
			c.logger.Log(ctx, log.LevelError, "branch phase failed",
				log.String("tx_id", txID),
				log.String("phase", string(phase)),
				log.String("branch_id", branch.ID()),
				log.Err(err))
		}

		report.Outcomes = append(report.Outcomes, Outcome{BranchID: branch.ID(), Err: err})
	}

	return report
}
