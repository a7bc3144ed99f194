package orchestrator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
)

// SimulationConfig controls SimulatedExecutor.
type SimulationConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	SuccessRate float64
}

// SimulatedExecutor accepts every action and reports an outcome after a
// random delay, succeeding with probability SuccessRate. It stands in for
// device agents in development.
type SimulatedExecutor struct {
	typ action.Type
	cfg SimulationConfig

	// jitter returns a delay in [0, n). chance returns a value in [0, 1).
	jitter func(n time.Duration) time.Duration
	chance func() float64

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewSimulatedExecutor creates a simulated executor for typ.
func NewSimulatedExecutor(typ action.Type, cfg SimulationConfig) *SimulatedExecutor {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &SimulatedExecutor{
		typ:    typ,
		cfg:    cfg,
		jitter: rand.N[time.Duration],
		chance: rand.Float64,
		timers: make(map[string]*time.Timer),
	}
}

// SimulatedExecutors returns a simulated executor for every type in the
// catalogue.
func SimulatedExecutors(catalogue *action.Catalogue, cfg SimulationConfig) []Executor {
	types := catalogue.Types()
	out := make([]Executor, 0, len(types))
	for _, t := range types {
		out = append(out, NewSimulatedExecutor(t, cfg))
	}
	return out
}

// Type implements Executor.
func (e *SimulatedExecutor) Type() action.Type { return e.typ }

// Dispatch implements Executor.
func (e *SimulatedExecutor) Dispatch(_ context.Context, a *action.Action, report Reporter) error {
	delay := e.cfg.MinDelay
	if span := e.cfg.MaxDelay - e.cfg.MinDelay; span > 0 {
		delay += e.jitter(span)
	}
	success := e.chance() < e.cfg.SuccessRate
	id := a.ID

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.timers[id] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, id)
		e.mu.Unlock()

		outcome := Outcome{Success: true, Message: "simulated execution succeeded"}
		if !success {
			outcome = Outcome{Message: "simulated execution failed"}
		}
		// Late reports (after the watchdog) fail harmlessly.
		_, _ = report.ReportOutcome(context.Background(), id, outcome)
	})
	return nil
}

// Pending returns the number of outcomes not yet reported.
func (e *SimulatedExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Close cancels outstanding reports.
func (e *SimulatedExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	return nil
}
