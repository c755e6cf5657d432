package futures

import (
	"sync"

	"github.com/joeycumines/logiface"
)

// Package-level structured logging. Logging is an infrastructure
// cross-cutting concern shared by all tasks and schedulers, so a single
// process-wide logger avoids per-instance configuration surface.
//
// The logger is the type-erased logiface form; obtain one from any logiface
// binding via its Logger method, e.g.:
//
//	futures.SetLogger(stumpy.L.New(...).Logger())
//
// All logging sites are nil-safe: with no logger configured, they are no-ops.
var pkgLogger struct {
	sync.RWMutex
	logger *logiface.Logger[logiface.Event]
}

// SetLogger sets the package-level structured logger. Pass nil to disable.
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	pkgLogger.Lock()
	defer pkgLogger.Unlock()
	pkgLogger.logger = logger
}

// getLogger retrieves the package-level logger; may return nil, which the
// logiface fluent builder treats as disabled.
func getLogger() *logiface.Logger[logiface.Event] {
	pkgLogger.RLock()
	defer pkgLogger.RUnlock()
	return pkgLogger.logger
}

// logTaskEvent emits a trace-level lifecycle event for a task.
func logTaskEvent(t *Task, msg string) {
	if b := getLogger().Trace(); b != nil {
		b.Int64(`task`, t.ID()).
			Stringer(`status`, t.Status()).
			Log(msg)
	}
}

// logTaskError emits an error-level event carrying err.
func logTaskError(t *Task, err error, msg string) {
	if b := getLogger().Err(); b != nil {
		b.Int64(`task`, t.ID()).
			Stringer(`status`, t.Status()).
			Err(err).
			Log(msg)
	}
}
