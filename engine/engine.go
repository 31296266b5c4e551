// Package engine executes measurement plans against beamline devices.
// A RunEngine owns one run at a time, numbers runs, and notifies
// subscribers (the DAQ, mostly) at run boundaries. Plans are plain
// functions composed from the primitives in plans.go.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Plan is one executable measurement sequence.
type Plan func(ctx context.Context, re *RunEngine) error

// Event kinds delivered to subscribers.
const (
	EventStart = "start"
	EventStop  = "stop"
	EventError = "error"
)

// Event describes a run boundary.
type Event struct {
	Kind    string
	RunID   int
	Started time.Time
	Err     error
}

// State of the engine between calls.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// RunEngine runs plans one at a time and fans run-boundary events out
// to subscribers in subscription order.
type RunEngine struct {
	log *slog.Logger

	mu      sync.Mutex
	state   State
	runID   int
	nextSub int
	subs    map[int]subscription
}

type subscription struct {
	kind string
	fn   func(Event)
}

// New builds an idle RunEngine.
func New() *RunEngine {
	return &RunEngine{
		log:   slog.Default().With("logger", "engine"),
		state: StateIdle,
		subs:  map[int]subscription{},
	}
}

// State returns the engine's current state.
func (re *RunEngine) State() State {
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.state
}

// RunCount returns the number of runs started so far.
func (re *RunEngine) RunCount() int {
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.runID
}

// Subscribe registers fn for events of the given kind ("" = all).
// The returned token is used to unsubscribe.
func (re *RunEngine) Subscribe(kind string, fn func(Event)) int {
	re.mu.Lock()
	defer re.mu.Unlock()
	re.nextSub++
	re.subs[re.nextSub] = subscription{kind: kind, fn: fn}
	return re.nextSub
}

// Unsubscribe removes a subscription by token.
func (re *RunEngine) Unsubscribe(token int) {
	re.mu.Lock()
	defer re.mu.Unlock()
	delete(re.subs, token)
}

// Run executes plan as one numbered run. Only one run may be active;
// a second concurrent call fails immediately. Subscribers see a start
// event before the plan and a stop (or error) event after.
func (re *RunEngine) Run(ctx context.Context, plan Plan) error {
	re.mu.Lock()
	if re.state != StateIdle {
		re.mu.Unlock()
		return fmt.Errorf("engine busy: state %s", re.state)
	}
	re.state = StateRunning
	re.runID++
	id := re.runID
	re.mu.Unlock()

	started := time.Now()
	re.log.Info("Run started.", "run", id)
	re.emit(Event{Kind: EventStart, RunID: id, Started: started})

	err := plan(ctx, re)

	re.mu.Lock()
	re.state = StateIdle
	re.mu.Unlock()

	if err != nil {
		re.log.Warn("Run failed.", "run", id, "err", err)
		re.emit(Event{Kind: EventError, RunID: id, Started: started, Err: err})
		return fmt.Errorf("run %d: %w", id, err)
	}
	re.log.Info("Run finished.", "run", id, "elapsed", time.Since(started).Round(time.Millisecond))
	re.emit(Event{Kind: EventStop, RunID: id, Started: started})
	return nil
}

func (re *RunEngine) emit(ev Event) {
	re.mu.Lock()
	fns := make([]func(Event), 0, len(re.subs))
	for token := 1; token <= re.nextSub; token++ {
		sub, ok := re.subs[token]
		if !ok {
			continue
		}
		if sub.kind == "" || sub.kind == ev.Kind {
			fns = append(fns, sub.fn)
		}
	}
	re.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
