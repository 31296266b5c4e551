package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"beamsh"
)

func TestRunEvaluatesAndExits(t *testing.T) {
	ns := beamsh.NewNamespace()
	ns.Set("seed", "hello")

	in := strings.NewReader(`beamline.Get("seed")` + "\nexit\n")
	var out bytes.Buffer
	err := Run(context.Background(), ns, Options{Hutch: "tst", In: in, Out: &out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Fatalf("output missing eval result:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "TST") {
		t.Fatalf("output missing banner:\n%s", out.String())
	}
}

func TestRunReportsEvalErrors(t *testing.T) {
	in := strings.NewReader("this is not go\nexit\n")
	var out bytes.Buffer
	err := Run(context.Background(), beamsh.NewNamespace(), Options{In: in, Out: &out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "beamsh>") {
		t.Fatalf("prompt missing:\n%s", out.String())
	}
}

func TestRunEOFExits(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), beamsh.NewNamespace(), Options{In: strings.NewReader(""), Out: &out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.go")
	script := `x := beamline.Get("seed")
_ = x
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	ns := beamsh.NewNamespace()
	ns.Set("seed", 1)
	if err := RunScript(context.Background(), path, ns); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
}

func TestRunScriptFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.go")
	if err := os.WriteFile(path, []byte("package main\nfunc {"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RunScript(context.Background(), path, beamsh.NewNamespace()); err == nil {
		t.Fatal("want error")
	}
}

func TestRunExitsOnIdleWithoutInput(t *testing.T) {
	// A reader that never delivers a line, like an operator who walked
	// away mid-session.
	blocked, _ := io.Pipe()
	var out bytes.Buffer

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), beamsh.NewNamespace(), Options{
			IdleTimeout: 50 * time.Millisecond,
			In:          blocked,
			Out:         &out,
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle session did not exit")
	}
}

func TestWatchdogFiresAfterIdle(t *testing.T) {
	var fired atomic.Bool
	w := NewWatchdog(50*time.Millisecond, func() { fired.Store(true) })
	w.Start(context.Background())
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !fired.Load() {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchdogTouchDefersExpiry(t *testing.T) {
	var fired atomic.Bool
	w := NewWatchdog(80*time.Millisecond, func() { fired.Store(true) })
	w.Start(context.Background())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		w.Touch()
	}
	if fired.Load() {
		t.Fatal("watchdog fired despite activity")
	}
}

func TestWatchdogStopIdempotent(t *testing.T) {
	w := NewWatchdog(time.Hour, func() {})
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
