package shell

import (
	"context"
	"sync"
	"time"
)

// Watchdog ends a session that has sat idle too long, so a console
// left logged in over a weekend does not hold the beamline objects
// forever. Activity is reported by the shell's pre-exec hook;
// expiration is cooperative via the OnIdle callback.
type Watchdog struct {
	timeout time.Duration
	onIdle  func()

	mu     sync.Mutex
	last   time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchdog builds a watchdog that calls onIdle after timeout of
// continuous inactivity.
func NewWatchdog(timeout time.Duration, onIdle func()) *Watchdog {
	return &Watchdog{timeout: timeout, onIdle: onIdle, last: time.Now()}
}

// Touch records operator activity.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.last = time.Now()
	w.mu.Unlock()
}

// Idle returns how long the session has been inactive.
func (w *Watchdog) Idle() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.last)
}

// Start launches the polling loop. Poll cadence is a fraction of the
// timeout so expiry is detected promptly even for short timeouts.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	interval := w.timeout / 10
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	go w.run(ctx, interval, w.done)
}

// Stop cancels the polling loop and waits for it to exit.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Watchdog) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Idle() >= w.timeout {
				w.onIdle()
				return
			}
		}
	}
}
