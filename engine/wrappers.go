package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Recorder is the data-acquisition hook the engine's quick-run layer
// talks to. The daq package implements it.
type Recorder interface {
	// Configured reports whether the recorder is ready to take data.
	Configured() bool
	// Prepare makes an unready recorder ready with its default
	// configuration.
	Prepare(ctx context.Context) error
}

// Wrappers carries the run-engine and daq handles that plan wrappers
// need. It is built once by the session and passed explicitly wherever
// plans are registered.
type Wrappers struct {
	RE  *RunEngine
	DAQ Recorder

	mu    sync.Mutex
	plans map[string]Plan
}

// NewWrappers builds the wrapper context around an engine and an
// optional recorder (nil when the DAQ step was skipped).
func NewWrappers(re *RunEngine, daq Recorder) *Wrappers {
	return &Wrappers{RE: re, DAQ: daq, plans: map[string]Plan{}}
}

// RegisterPlan makes plan callable by name through Call. Registering
// an existing name replaces it.
func (w *Wrappers) RegisterPlan(name string, plan Plan) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.plans[name] = plan
}

// PlanNames lists the registered plan names, sorted.
func (w *Wrappers) PlanNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.plans))
	for name := range w.plans {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call runs a registered plan immediately on the engine, configuring
// the recorder first when one is attached and not ready.
func (w *Wrappers) Call(ctx context.Context, name string) error {
	w.mu.Lock()
	plan, ok := w.plans[name]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("no plan named %q", name)
	}
	if err := w.prepareRecorder(ctx); err != nil {
		return fmt.Errorf("plan %s: %w", name, err)
	}
	return w.RE.Run(ctx, plan)
}

// Quick wraps plan so calling the result runs it on the engine right
// away. This is the shell's one-liner form.
func (w *Wrappers) Quick(plan Plan) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := w.prepareRecorder(ctx); err != nil {
			return err
		}
		return w.RE.Run(ctx, plan)
	}
}

// prepareRecorder brings the attached recorder up before a run so the
// run is taken with data, not silently without.
func (w *Wrappers) prepareRecorder(ctx context.Context) error {
	if w.DAQ == nil || w.DAQ.Configured() {
		return nil
	}
	if err := w.DAQ.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare recorder: %w", err)
	}
	return nil
}
