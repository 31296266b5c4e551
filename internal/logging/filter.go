package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ObjectNameKey is the attribute key device loggers attach so the
// filter can identify the hardware source of a record.
const ObjectNameKey = "object"

// LoggerNameKey optionally names a non-device subsystem source.
const LoggerNameKey = "logger"

// Default message-rate thresholds. A source exceeding any of them is
// hushed until the session ends or it is whitelisted.
const (
	DefaultNoisyThreshold1s  = 20
	DefaultNoisyThreshold10s = 50
	DefaultNoisyThreshold60s = 100
)

// FilterConfig holds the tunable parts of an ObjectFilter.
type FilterConfig struct {
	// FocusLevel is the cutoff for device-tagged records that are not
	// explicitly focused. Zero means WARN.
	FocusLevel slog.Level

	// AllowOtherMessages lets records without a device tag through
	// (subject to the handler level and the blacklist).
	AllowOtherMessages *bool

	// NoisyThreshold1s/10s/60s hush a source that logs more than this
	// many shown messages inside the window. Zero disables a window.
	// DefaultFilterConfig supplies the usual values.
	NoisyThreshold1s  int
	NoisyThreshold10s int
	NoisyThreshold60s int

	// Whitelist sources are exempt from noise suppression.
	Whitelist []string

	// Blacklist sources are never shown.
	Blacklist []string
}

// DefaultFilterConfig returns the configuration sessions start with.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		FocusLevel:        slog.LevelWarn,
		NoisyThreshold1s:  DefaultNoisyThreshold1s,
		NoisyThreshold10s: DefaultNoisyThreshold10s,
		NoisyThreshold60s: DefaultNoisyThreshold60s,
	}
}

// ObjectFilter is a slog.Handler middleware implementing the session's
// log policy for one output handler:
//
//   - INFO records from tagged hardware sources are demoted to DEBUG.
//   - A tagged record is shown when it meets the focus cutoff or its
//     source is explicitly focused, and the source is not blacklisted.
//   - Untagged records are shown when other messages are allowed, the
//     source is not blacklisted, and the record meets the handler level.
//   - Sources that exceed the rolling rate thresholds are hushed with a
//     single announcement, unless whitelisted or focused.
//
// All mutable state is guarded by one mutex shared between the record
// path and the once-per-second decay tick.
type ObjectFilter struct {
	name     string
	delegate slog.Handler
	bound    []slog.Attr
	state    *filterState
}

type filterState struct {
	mu sync.Mutex

	level      *slog.LevelVar
	focusLevel slog.Level
	focused    map[string]struct{}
	allowOther bool
	whitelist  map[string]struct{}
	blacklist  map[string]struct{}

	count1s  map[string]int
	count10s map[string]int
	count60s map[string]int

	threshold1s  int
	threshold10s int
	threshold60s int

	// noisy maps a hushed source to the number of records suppressed
	// since it was flagged.
	noisy map[string]int

	tickIndex int
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewObjectFilter wraps delegate with the session log policy. level is
// the handler's baseline level variable (console level for the console
// handler, DEBUG for the file handler).
func NewObjectFilter(name string, delegate slog.Handler, level *slog.LevelVar, cfg FilterConfig) *ObjectFilter {
	focusLevel := cfg.FocusLevel
	if focusLevel == 0 {
		focusLevel = slog.LevelWarn
	}
	allowOther := true
	if cfg.AllowOtherMessages != nil {
		allowOther = *cfg.AllowOtherMessages
	}

	st := &filterState{
		level:        level,
		focusLevel:   focusLevel,
		focused:      make(map[string]struct{}),
		allowOther:   allowOther,
		whitelist:    toSet(cfg.Whitelist),
		blacklist:    toSet(cfg.Blacklist),
		count1s:      make(map[string]int),
		count10s:     make(map[string]int),
		count60s:     make(map[string]int),
		threshold1s:  cfg.NoisyThreshold1s,
		threshold10s: cfg.NoisyThreshold10s,
		threshold60s: cfg.NoisyThreshold60s,
		noisy:        make(map[string]int),
	}
	return &ObjectFilter{name: name, delegate: delegate, state: st}
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// Name returns the handler name this filter is attached to.
func (f *ObjectFilter) Name() string { return f.name }

// Start launches the once-per-second decay tick. The tick runs until
// ctx is cancelled or Stop is called.
func (f *ObjectFilter) Start(ctx context.Context) {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done != nil {
		return
	}
	ctx, st.cancel = context.WithCancel(ctx)
	st.done = make(chan struct{})
	go f.run(ctx, st.done)
}

// Stop cancels the decay tick and waits for it to exit.
func (f *ObjectFilter) Stop() {
	st := f.state
	st.mu.Lock()
	cancel, done := st.cancel, st.done
	st.cancel, st.done = nil, nil
	st.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *ObjectFilter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

// tick performs one decay cycle: flag newly noisy sources, then clear
// the rolling windows that have expired.
func (f *ObjectFilter) tick() {
	st := f.state
	st.mu.Lock()

	over := map[string]struct{}{}
	collect := func(counts map[string]int, threshold int) {
		if threshold <= 0 {
			return
		}
		for name, count := range counts {
			if count > threshold {
				over[name] = struct{}{}
			}
		}
	}
	collect(st.count1s, st.threshold1s)
	collect(st.count10s, st.threshold10s)
	collect(st.count60s, st.threshold60s)

	var announce []string
	for name := range over {
		if _, ok := st.whitelist[name]; ok {
			continue
		}
		if _, ok := st.noisy[name]; ok {
			continue
		}
		st.noisy[name] = 0
		announce = append(announce, name)
	}

	st.tickIndex = (st.tickIndex + 1) % 60
	if st.tickIndex == 0 {
		clear(st.count60s)
	}
	if st.tickIndex%10 == 0 {
		clear(st.count10s)
	}
	clear(st.count1s)
	st.mu.Unlock()

	// Announce outside the lock. The notice passes back through this
	// filter, so the flagged name rides in a plain attribute: tagging
	// it as the source would suppress the announcement itself.
	sort.Strings(announce)
	for _, name := range announce {
		slog.Info(
			"Hushing noisy log source. Whitelist it via logs.Filter.Whitelist if this is undesirable.",
			"source", name,
		)
	}
}

// Focus replaces the focused source set and cutoff level, returning the
// sources that started and stopped being focused.
func (f *ObjectFilter) Focus(level slog.Level, names ...string) (started, stopped []string) {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()

	next := toSet(names)
	for name := range next {
		if _, ok := st.focused[name]; !ok {
			started = append(started, name)
		}
	}
	for name := range st.focused {
		if _, ok := next[name]; !ok {
			stopped = append(stopped, name)
		}
	}
	st.focused = next
	st.focusLevel = level
	sort.Strings(started)
	sort.Strings(stopped)
	return started, stopped
}

// Focused lists the currently focused sources.
func (f *ObjectFilter) Focused() []string {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, 0, len(st.focused))
	for name := range st.focused {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FocusLevel returns the current focus cutoff.
func (f *ObjectFilter) FocusLevel() slog.Level {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.focusLevel
}

// NoisySources returns the hushed sources and how many of their records
// have been suppressed since each was flagged.
func (f *ObjectFilter) NoisySources() map[string]int {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]int, len(st.noisy))
	for name, count := range st.noisy {
		out[name] = count
	}
	return out
}

// Whitelist exempts a source from noise suppression and unflags it if
// it was already hushed.
func (f *ObjectFilter) Whitelist(name string) {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()
	st.whitelist[name] = struct{}{}
	delete(st.noisy, name)
}

// Blacklist hides a source entirely.
func (f *ObjectFilter) Blacklist(name string) {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()
	st.blacklist[name] = struct{}{}
}

// Description summarizes the current configuration. Best effort: never
// fails, meant for interactive inspection.
func (f *ObjectFilter) Description() string {
	st := f.state
	st.mu.Lock()
	defer st.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Filter %q\n", f.name)
	fmt.Fprintf(&b, "  focus level: %s\n", st.focusLevel)
	fmt.Fprintf(&b, "  focused sources: %s\n", sortedKeys(st.focused))
	fmt.Fprintf(&b, "  whitelist: %s\n", sortedKeys(st.whitelist))
	fmt.Fprintf(&b, "  blacklist: %s\n", sortedKeys(st.blacklist))
	fmt.Fprintf(&b, "  hush over %d msg/1s, %d msg/10s, %d msg/60s\n",
		st.threshold1s, st.threshold10s, st.threshold60s)
	if len(st.noisy) > 0 {
		fmt.Fprintf(&b, "  hushed sources:\n")
		for _, name := range sortedKeys(st.noisy) {
			fmt.Fprintf(&b, "    %s (%d suppressed)\n", name, st.noisy[name])
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Enabled always accepts: the decision needs the record's attributes,
// and the rolling counters must see records below the display level.
func (f *ObjectFilter) Enabled(context.Context, slog.Level) bool { return true }

// Handle applies the decision algorithm and forwards shown records to
// the delegate handler. It never returns an error from the decision
// path itself.
func (f *ObjectFilter) Handle(ctx context.Context, record slog.Record) error {
	object := f.attrValue(record, ObjectNameKey)

	st := f.state
	st.mu.Lock()

	var show bool
	source := object
	if object == "" {
		source = f.attrValue(record, LoggerNameKey)
		_, blocked := st.blacklist[source]
		show = st.allowOther && !blocked && record.Level >= st.level.Level()
	} else {
		if record.Level == slog.LevelInfo {
			// Hardware chatter at INFO reads as DEBUG.
			record = record.Clone()
			record.Level = slog.LevelDebug
		}
		_, focused := st.focused[object]
		_, blocked := st.blacklist[object]
		show = (record.Level >= st.focusLevel || focused) && !blocked
	}

	var noisy bool
	if source != "" {
		_, flagged := st.noisy[source]
		_, exempt := st.whitelist[source]
		_, focused := st.focused[source]
		noisy = flagged && !exempt && !focused
	}

	if show && source != "" {
		st.count1s[source]++
		st.count10s[source]++
		st.count60s[source]++
	}
	if noisy {
		st.noisy[source]++
	}
	st.mu.Unlock()

	if show && !noisy {
		return f.delegate.Handle(ctx, record)
	}
	return nil
}

// attrValue finds a string attribute by key, checking attrs bound via
// WithAttrs before the record's own.
func (f *ObjectFilter) attrValue(record slog.Record, key string) string {
	for _, a := range f.bound {
		if a.Key == key {
			return a.Value.String()
		}
	}
	var out string
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			out = a.Value.String()
			return false
		}
		return true
	})
	return out
}

// WithAttrs keeps bound attrs visible to the decision path while
// sharing the counter state with the parent filter.
func (f *ObjectFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(f.bound)+len(attrs))
	bound = append(bound, f.bound...)
	bound = append(bound, attrs...)
	return &ObjectFilter{
		name:     f.name,
		delegate: f.delegate.WithAttrs(attrs),
		bound:    bound,
		state:    f.state,
	}
}

func (f *ObjectFilter) WithGroup(name string) slog.Handler {
	return &ObjectFilter{
		name:     f.name,
		delegate: f.delegate.WithGroup(name),
		bound:    f.bound,
		state:    f.state,
	}
}
