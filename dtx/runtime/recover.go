package runtime

import (
	"context"
	"runtime/debug"

	"github.com/lanepay/lib-dtx/dtx/log"
)

// PanicPolicy controls what happens after a panic has been logged.
type PanicPolicy int

const (
	// KeepRunning swallows the panic after logging it.
	KeepRunning PanicPolicy = iota
	// CrashProcess re-panics after logging, crashing the process.
	CrashProcess
)

// RecoverAndLog recovers from a panic, logs it with the stack trace, and
// continues execution. Use in defer statements for workers where a panic
// must not take the process down.
//
//	defer runtime.RecoverAndLog(ctx, logger, "outbox", "relay_scan")
func RecoverAndLog(ctx context.Context, logger log.Logger, component, name string) {
	if recovered := recover(); recovered != nil {
		logPanic(ctx, logger, component, name, recovered)
	}
}

// RecoverWithPolicy recovers from a panic and handles it according to the
// given policy.
func RecoverWithPolicy(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy) {
	if recovered := recover(); recovered != nil {
		logPanic(ctx, logger, component, name, recovered)

		if policy == CrashProcess {
			panic(recovered)
		}
	}
}

// SafeGo runs fn in a goroutine with panic containment.
func SafeGo(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy, fn func(ctx context.Context)) {
	go func() {
		defer RecoverWithPolicy(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}

func logPanic(ctx context.Context, logger log.Logger, component, name string, recovered any) {
	if logger == nil {
		return
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("component", component),
		log.String("source", name),
		log.Any("panic", recovered),
		log.String("stack", string(debug.Stack())),
	)
}
