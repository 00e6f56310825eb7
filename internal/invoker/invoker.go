// Package invoker dispatches operation handlers asynchronously. The manual
// trigger path does no substantive work in-request: it enqueues a payload
// here and returns 202, and the worker executes the handler out of band.
package invoker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

// Payload is the envelope carried to the worker. It holds everything the
// handler needs to resume the run under the audit id the API already
// returned to the caller.
type Payload struct {
	Operation core.OperationType `json:"operation"`
	AuditID   string             `json:"auditId"`
	StartTime core.Time          `json:"startTime"`
	Authority core.Authority     `json:"authority"`
	Params    map[string]any     `json:"params,omitempty"`
}

// Invoker enqueues one asynchronous handler invocation.
type Invoker interface {
	Invoke(ctx context.Context, p Payload) error
}

// Handler executes an enqueued payload; the worker and the local invoker
// share it.
type Handler func(ctx context.Context, p Payload) error

// Local runs payloads in-process. Dispatch is a goroutine detached from
// the request context, mirroring the queue-backed adapters; Sync mode runs
// inline for tests.
type Local struct {
	handler Handler
	timeout time.Duration
	sync    bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func NewLocal(handler Handler, timeout time.Duration, logger *zap.Logger) *Local {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Local{handler: handler, timeout: timeout, logger: logger.Named("local-invoker")}
}

// NewLocalSync runs handlers inline on Invoke, used by tests.
func NewLocalSync(handler Handler, logger *zap.Logger) *Local {
	return &Local{handler: handler, timeout: 5 * time.Minute, sync: true, logger: logger.Named("local-invoker")}
}

func (l *Local) Invoke(ctx context.Context, p Payload) error {
	if l.sync {
		return l.run(ctx, p)
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.run(runCtx, p); err != nil {
			l.logger.Error("async invocation failed",
				zap.String("operation", string(p.Operation)),
				zap.String("auditId", p.AuditID),
				zap.Error(err))
		}
	}()
	return nil
}

func (l *Local) run(ctx context.Context, p Payload) error {
	return l.handler(ctx, p)
}

// Wait blocks until all dispatched invocations finish; used in shutdown
// and tests.
func (l *Local) Wait() { l.wg.Wait() }
