package engine

import (
	"context"
	"log/slog"
	"sync"
)

// State is the readiness of the conversion engine.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Readiness tracks whether the engine's warmup has finished. It is written
// once by the startup routine and read by health checks.
type Readiness struct {
	mu    sync.RWMutex
	state State
	err   error
	once  sync.Once
}

// NewReadiness returns a Readiness in the pending state.
func NewReadiness() *Readiness {
	return &Readiness{state: StatePending}
}

// Run performs the warmup of e exactly once and records the outcome.
// Later calls are no-ops.
func (r *Readiness) Run(ctx context.Context, e Engine) {
	r.once.Do(func() {
		err := e.Warmup(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.state, r.err = StateFailed, err
			slog.Error("Conversion engine warmup failed.", "engine", e.Name(), "error", err)
			return
		}
		r.state = StateReady
		slog.Info("Conversion engine ready.", "engine", e.Name())
	})
}

// Snapshot returns the current state and, for StateFailed, the warmup error.
func (r *Readiness) Snapshot() (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.err
}
