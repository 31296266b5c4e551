// Package shell is the interactive front of a session: a Go REPL over
// the loaded namespace, a script runner for batch use, and the idle
// watchdog. Interpreted code reaches session objects through the
// injected beamline package.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"beamsh"
	"beamsh/internal/ui"
	"beamsh/userload"
)

// Options tune Run.
type Options struct {
	// Hutch names the beamline for the banner.
	Hutch string
	// Experiment is shown in the banner when known.
	Experiment string
	// LogFile is the session debug log path shown in the banner.
	LogFile string
	// IdleTimeout ends the session after this much inactivity;
	// zero disables the watchdog.
	IdleTimeout time.Duration
	// In and Out override stdin/stdout, for tests.
	In  io.Reader
	Out io.Writer
}

// Run starts the interactive loop and blocks until the operator exits
// or the idle watchdog fires.
func Run(ctx context.Context, ns *beamsh.Namespace, opts Options) error {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	interp, err := userload.NewInterpreter(ns)
	if err != nil {
		return fmt.Errorf("start interpreter: %w", err)
	}

	fmt.Fprintln(out, banner(ns, opts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watchdog *Watchdog
	if opts.IdleTimeout > 0 {
		watchdog = NewWatchdog(opts.IdleTimeout, func() {
			slog.Warn("Session idle too long, exiting.", "idle", opts.IdleTimeout)
			cancel()
		})
		watchdog.Start(ctx)
		defer watchdog.Stop()
	}

	// Reads happen on their own goroutine so the loop can leave while
	// blocked on input, which is how the watchdog forces an idle
	// session out.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, ui.Accent("beamsh> "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, open := <-lines:
			if !open {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}
		if watchdog != nil {
			watchdog.Touch()
		}
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		v, err := interp.Eval(line)
		if err != nil {
			fmt.Fprintln(out, ui.ErrorMsg("%v", err))
			continue
		}
		if v.IsValid() && v.CanInterface() {
			fmt.Fprintf(out, "%v\n", v.Interface())
		}
	}
}

// RunScript evaluates one script file against the namespace and
// returns its error, for batch invocations. Scripts are interpreted
// the way typed input is: bare statements, no package clause.
func RunScript(ctx context.Context, path string, ns *beamsh.Namespace) error {
	interp, err := userload.NewInterpreter(ns)
	if err != nil {
		return fmt.Errorf("start interpreter: %w", err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	if _, err := interp.EvalWithContext(ctx, string(src)); err != nil {
		return fmt.Errorf("run script %s: %w", path, err)
	}
	return nil
}

// banner renders the session greeting with environment info and the
// most useful namespaces present.
func banner(ns *beamsh.Namespace, opts Options) string {
	var lines []string
	if opts.Experiment != "" {
		lines = append(lines, "experiment "+opts.Experiment)
	}
	if opts.LogFile != "" {
		lines = append(lines, "debug log "+opts.LogFile)
	}
	lines = append(lines, fmt.Sprintf("%d objects loaded", ns.Leaves()))

	out := ui.Banner(opts.Hutch, lines...)
	if rows := hintRows(ns); len(rows) > 0 {
		out += "\n" + ui.Table([]string{"name", "what it is"}, rows)
	}
	out += "\n" + ui.Muted(`use beamline.Get("name") to grab any object, "exit" to leave`)
	return out
}

// hintNames are the helper namespaces worth advertising at startup,
// in display order.
var hintNames = []string{
	"re", "bp", "bps", "bpp", "daq", "elog", "logs", "sim",
	"motors", "detectors", "slits", "all_objects",
}

func hintRows(ns *beamsh.Namespace) [][]string {
	var rows [][]string
	for _, name := range hintNames {
		if _, ok := ns.Get(name); !ok {
			continue
		}
		doc := ns.Doc(name)
		if doc == "" {
			doc = describe(ns, name)
		}
		rows = append(rows, []string{name, doc})
	}
	return rows
}

func describe(ns *beamsh.Namespace, name string) string {
	obj, _ := ns.Get(name)
	if sub, ok := obj.(*beamsh.Namespace); ok {
		return fmt.Sprintf("group of %d objects", sub.Len())
	}
	if dev, ok := obj.(beamsh.Device); ok {
		return dev.Describe()
	}
	return fmt.Sprintf("%T", obj)
}
