// Package session performs the ordered, fault-isolated load sequence
// that turns a deployment's conf.yml into a live namespace of
// beamline objects. One failed subsystem never prevents the session
// from starting; the only fatal outcomes are the operator explicitly
// declining to continue after a user-code failure.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/beevik/ntp"

	"beamsh"
	"beamsh/config"
	"beamsh/daq"
	"beamsh/engine"
	"beamsh/internal/logging"
	"beamsh/userload"
)

// Deps are the injected collaborators. Everything that talks to the
// outside world comes through here so tests and --sim sessions can
// swap the edges out.
type Deps struct {
	// Pipeline is the configured logging pipeline.
	Pipeline *logging.Pipeline
	// Prompt asks the operator to confirm continuing after user-code
	// failures; nil always continues.
	Prompt userload.Prompter
	// DAQDialer overrides the acquisition transport. Nil picks TCP
	// or sim from the configuration.
	DAQDialer daq.Dialer
	// ElogURL and ArchiveURL override the facility service
	// endpoints; empty uses the defaults.
	ElogURL    string
	ArchiveURL string
	// Hostname overrides os.Hostname for platform selection.
	Hostname string
	// NTPServer overrides the clock-check server.
	NTPServer string
	// NTPQuery overrides the clock-check transport, for tests.
	NTPQuery func(server string) (*ntp.Response, error)
}

// Options are the per-invocation knobs from the command line.
type Options struct {
	// Sim forces simulated DAQ transport regardless of daq_type.
	Sim bool
	// Experiment overrides the configured or looked-up experiment.
	Experiment string
}

// Outcome records one step attempt for the report and the manifest.
type Outcome struct {
	Name    string
	Elapsed time.Duration
	Err     error
}

// Result is the loaded session.
type Result struct {
	Namespace  *beamsh.Namespace
	Experiment string
	Outcomes   []Outcome
}

// state threads the partial session through the steps.
type state struct {
	cfg  *config.Config
	deps Deps
	opts Options
	log  *slog.Logger

	ns         *beamsh.Namespace
	experiment string
	outcomes   []Outcome

	parts parts
}

// parts holds the handles later steps need from earlier ones.
type parts struct {
	re          *engine.RunEngine
	daq         *daq.Client
	matchedHost bool
}

// Load runs every step in order against cfg and returns the namespace
// even when steps failed. The error is non-nil only for the operator
// declined case.
func Load(ctx context.Context, cfg *config.Config, deps Deps, opts Options) (*Result, error) {
	st := &state{
		cfg:  cfg,
		deps: deps,
		opts: opts,
		log:  slog.Default(),
		ns:   beamsh.NewNamespace(),
	}

	for _, step := range st.steps() {
		if step.skip != nil {
			if reason, skip := step.skip(st); skip {
				st.log.Info("Skipping load step.", "step", step.name, "reason", reason)
				continue
			}
		}
		if err := st.run(ctx, step); err != nil {
			return &Result{Namespace: st.ns, Experiment: st.experiment, Outcomes: st.outcomes}, err
		}
	}

	return &Result{Namespace: st.ns, Experiment: st.experiment, Outcomes: st.outcomes}, nil
}

// step is one named unit of the load sequence. fatal marks the two
// steps whose failure may end the session on operator decline.
type step struct {
	name  string
	skip  func(*state) (string, bool)
	run   func(context.Context, *state) error
	fatal bool
}

// run attempts one step, logging its start, elapsed time, and any
// failure, and records the outcome. Only fatal steps propagate.
func (st *state) run(ctx context.Context, s step) error {
	st.log.Info(fmt.Sprintf("Loading %s...", s.name))
	started := time.Now()
	err := s.run(ctx, st)
	elapsed := time.Since(started)
	st.outcomes = append(st.outcomes, Outcome{Name: s.name, Elapsed: elapsed, Err: err})

	if err != nil {
		st.log.Error(fmt.Sprintf("Failed to load %s.", s.name),
			"elapsed", elapsed.Round(time.Millisecond))
		st.log.Debug("Load step error chain.", "step", s.name, "err", err)
		if s.fatal {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		return nil
	}
	st.log.Info(fmt.Sprintf("Successfully loaded %s.", s.name),
		"elapsed", elapsed.Round(time.Millisecond))
	return nil
}

// add places obj into the session namespace, warning on collisions
// between independently authored steps.
func (st *state) add(name string, obj any, doc string) {
	if replaced := st.ns.Set(name, obj); replaced {
		st.log.Warn("Object name collision, the newer object wins.", "name", name)
	}
	if doc != "" {
		st.ns.SetDoc(name, doc)
	}
}

func (st *state) hostname() string {
	if st.deps.Hostname != "" {
		return st.deps.Hostname
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

// Failed lists the steps that did not load.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
