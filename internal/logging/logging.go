// Package logging configures the session's slog pipeline: a console
// handler on stderr, a session debug file handler, and the per-handler
// object filters that demote and rate-limit noisy hardware sources.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Handler names used to locate the console and file pipelines.
const (
	HandlerConsole = "console"
	HandlerDebug   = "debug"
)

// Config controls pipeline setup.
type Config struct {
	// Dir is the deployment directory; session files go under its
	// logs/ subdirectory. Empty disables the debug file handler.
	Dir string

	// ConsoleLevel is the starting console level (default info).
	ConsoleLevel slog.Level

	// Filter holds the noisy-source thresholds shared by both handlers.
	Filter FilterConfig
}

// Pipeline owns the configured handlers and their filters. It is
// created once at startup and passed explicitly to whatever needs to
// adjust logging at runtime.
type Pipeline struct {
	console      *ObjectFilter
	debug        *ObjectFilter
	consoleLevel *slog.LevelVar
	dir          string
	logFile      string
	file         *os.File
}

// Setup builds the pipeline, installs it as the slog default, and
// starts the filters' background rate tickers. A failure to open the
// debug log file degrades to console-only logging with a warning.
func Setup(ctx context.Context, cfg Config) (*Pipeline, error) {
	if cfg.Filter.NoisyThreshold1s == 0 && cfg.Filter.NoisyThreshold10s == 0 && cfg.Filter.NoisyThreshold60s == 0 {
		def := DefaultFilterConfig()
		cfg.Filter.NoisyThreshold1s = def.NoisyThreshold1s
		cfg.Filter.NoisyThreshold10s = def.NoisyThreshold10s
		cfg.Filter.NoisyThreshold60s = def.NoisyThreshold60s
	}
	consoleLevel := &slog.LevelVar{}
	consoleLevel.Set(cfg.ConsoleLevel)

	p := &Pipeline{consoleLevel: consoleLevel, dir: cfg.Dir}

	consoleText := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	p.console = NewObjectFilter(HandlerConsole, consoleText, consoleLevel, cfg.Filter)
	p.console.Start(ctx)

	handlers := []slog.Handler{p.console}

	if cfg.Dir != "" {
		file, path, err := openSessionFile(cfg.Dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "beamsh: cannot open session log file: %v\n", err)
		} else {
			p.file = file
			p.logFile = path
			debugLevel := &slog.LevelVar{}
			debugLevel.Set(slog.LevelDebug)
			fileText := slog.NewTextHandler(file, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})
			p.debug = NewObjectFilter(HandlerDebug, fileText, debugLevel, cfg.Filter)
			p.debug.Start(ctx)
			handlers = append(handlers, p.debug)
		}
	}

	slog.SetDefault(slog.New(newMultiHandler(handlers...)))
	return p, nil
}

// openSessionFile creates logs/<year>_<month>/<user>_<timestamp>.log.
func openSessionFile(dir string) (*os.File, string, error) {
	monthDir := filepath.Join(dir, "logs", time.Now().Format("2006_01"))
	if err := os.MkdirAll(monthDir, 0o777); err != nil {
		return nil, "", fmt.Errorf("create log directory: %w", err)
	}

	user := os.Getenv("USER")
	if user == "" {
		user = "beamsh"
	}
	path := filepath.Join(monthDir, fmt.Sprintf("%s_%s.log", user, time.Now().Format("02_15h04m05s")))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return file, path, nil
}

// Filter returns the named handler's object filter, or nil if the
// handler was not configured.
func (p *Pipeline) Filter(name string) *ObjectFilter {
	switch name {
	case HandlerConsole:
		return p.console
	case HandlerDebug:
		return p.debug
	}
	return nil
}

// Dir returns the configured log directory ("" when file logging is off).
func (p *Pipeline) Dir() string { return p.dir }

// SessionLogFile returns the current session's debug log path, or "".
func (p *Pipeline) SessionLogFile() string { return p.logFile }

// ConsoleLevel returns the console handler's current level.
func (p *Pipeline) ConsoleLevel() slog.Level { return p.consoleLevel.Level() }

// ConsoleLevelName returns the console level as a display string.
func (p *Pipeline) ConsoleLevelName() string { return p.consoleLevel.Level().String() }

// SetConsoleLevel adjusts the console handler's level.
func (p *Pipeline) SetConsoleLevel(level slog.Level) { p.consoleLevel.Set(level) }

// DebugMode reports whether the console shows DEBUG messages.
func (p *Pipeline) DebugMode() bool { return p.consoleLevel.Level() <= slog.LevelDebug }

// SetDebugMode raises or restores the console level.
func (p *Pipeline) SetDebugMode(on bool) {
	if on {
		p.SetConsoleLevel(slog.LevelDebug)
	} else {
		p.SetConsoleLevel(slog.LevelInfo)
	}
}

// DebugContext runs fn with the console in debug mode, restoring the
// previous level afterwards.
func (p *Pipeline) DebugContext(fn func()) {
	old := p.ConsoleLevel()
	p.SetConsoleLevel(slog.LevelDebug)
	defer p.SetConsoleLevel(old)
	fn()
}

// LogObjects focuses both handlers on the named sources at the given
// level. It announces recording for each newly focused source and a
// stop notice for each source no longer focused.
func (p *Pipeline) LogObjects(level slog.Level, names ...string) {
	started := map[string]struct{}{}
	stopped := map[string]struct{}{}
	for _, f := range []*ObjectFilter{p.console, p.debug} {
		if f == nil {
			continue
		}
		on, off := f.Focus(level, names...)
		for _, name := range on {
			started[name] = struct{}{}
		}
		for _, name := range off {
			stopped[name] = struct{}{}
		}
	}

	for name := range started {
		slog.Info("Recording log messages.", "object", name, "min_level", level.String())
	}
	for name := range stopped {
		if _, ok := started[name]; ok {
			continue
		}
		slog.Warn("No longer recording log messages.", "object", name)
	}
}

// LogObjectsOff returns to default behavior: no focused sources, with
// the focus cutoff back at WARN.
func (p *Pipeline) LogObjectsOff() {
	p.LogObjects(slog.LevelWarn)
}

// SessionLogFiles lists the log files created by this session.
func (p *Pipeline) SessionLogFiles() []string {
	if p.logFile == "" {
		return nil
	}
	dir := filepath.Dir(p.logFile)
	base := filepath.Base(p.logFile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("Cannot list session log files.", "err", err)
		return nil
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), base) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

// Close stops the filter tickers and closes the session log file.
func (p *Pipeline) Close() error {
	if p.console != nil {
		p.console.Stop()
	}
	if p.debug != nil {
		p.debug.Stop()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}

// multiHandler fans one record out to every configured handler.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}
