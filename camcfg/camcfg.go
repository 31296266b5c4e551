// Package camcfg reads camviewer configuration files and builds the
// beamline cameras they describe. The format is line oriented: commas
// separate fields, `#` starts a comment, and `include <path>` splices
// another file in. Bad lines are logged and skipped so one stale
// entry never costs the whole camera set.
package camcfg

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"beamsh"
	"beamsh/device"
)

// UnsupportedConfigError marks a line whose camera type beamsh cannot
// build (only GigE types are supported).
type UnsupportedConfigError struct {
	Kind string
}

func (e *UnsupportedConfigError) Error() string {
	return fmt.Sprintf("unsupported camera type %q", e.Kind)
}

// MalformedConfigError marks a line missing a required field.
type MalformedConfigError struct {
	Reason string
	Line   string
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("malformed config line (%s): %q", e.Reason, e.Line)
}

// Spec is one parsed camera entry.
type Spec struct {
	Name   string
	Kind   string
	Prefix string
	PV     string
}

// Read parses path and every included file into camera specs.
// Duplicate prefixes across the whole include tree keep the first
// occurrence. A file is read at most once, so include cycles end
// after a single pass.
func Read(path string, log *slog.Logger) ([]Spec, error) {
	if log == nil {
		log = slog.Default()
	}
	seen := map[string]struct{}{}
	visited := map[string]struct{}{}
	return readFile(path, seen, visited, log)
}

func readFile(path string, seen, visited map[string]struct{}, log *slog.Logger) ([]Spec, error) {
	if _, again := visited[path]; again {
		log.Debug("Skipping already-read camera config.", "file", path)
		return nil, nil
	}
	visited[path] = struct{}{}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open camera config: %w", err)
	}
	defer f.Close()

	var out []Spec
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "include") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				log.Warn("Skipping malformed include line.",
					"file", path, "line", lineno)
				continue
			}
			// Include paths are used as written, no resolution.
			included, err := readFile(fields[1], seen, visited, log)
			if err != nil {
				log.Error("Could not read included camera config.",
					"file", fields[1], "err", err)
				continue
			}
			out = append(out, included...)
			continue
		}

		spec, err := parseLine(line)
		if err != nil {
			log.Error("Skipping bad camera config line.",
				"file", path, "line", lineno, "err", err)
			continue
		}
		if _, dup := seen[spec.Prefix]; dup {
			log.Debug("Skipping duplicate camera prefix.",
				"prefix", spec.Prefix, "file", path, "line", lineno)
			continue
		}
		seen[spec.Prefix] = struct{}{}
		out = append(out, spec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read camera config: %w", err)
	}
	return out, nil
}

// parseLine interprets `type, pv_spec, evr, name[, extra...]`.
func parseLine(line string) (Spec, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 4 {
		return Spec{}, &MalformedConfigError{Reason: "expected at least 4 fields", Line: line}
	}
	kind, pvSpec, name := parts[0], parts[1], parts[3]
	if !strings.HasPrefix(kind, "GE") {
		return Spec{}, &UnsupportedConfigError{Kind: kind}
	}
	if pvSpec == "" {
		return Spec{}, &MalformedConfigError{Reason: "empty pv", Line: line}
	}
	if name == "" {
		return Spec{}, &MalformedConfigError{Reason: "empty name", Line: line}
	}

	// The pv spec is `image_base[;prefix]`. Without the explicit
	// prefix, guess it from the image base by dropping its last
	// colon segment.
	segments := strings.Split(pvSpec, ";")
	pv := strings.TrimSpace(segments[0])
	if pv == "" {
		return Spec{}, &MalformedConfigError{Reason: "empty pv", Line: line}
	}
	var prefix string
	if len(segments) > 1 && strings.TrimSpace(segments[1]) != "" {
		prefix = strings.TrimSpace(segments[1])
	} else {
		if idx := strings.LastIndex(pv, ":"); idx >= 0 {
			prefix = pv[:idx]
		} else {
			prefix = pv
		}
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return Spec{Name: name, Kind: kind, Prefix: prefix, PV: pv}, nil
}

// Builder turns one spec into a live camera.
type Builder func(spec Spec) (beamsh.Device, error)

// DefaultBuilder constructs the standard GigE camera object.
func DefaultBuilder(spec Spec) (beamsh.Device, error) {
	return device.NewAreaDetector(spec.Name, spec.Prefix), nil
}

// Build instantiates every spec, parallelized across NumCPU-1 workers
// (at least one). A camera that fails to build is logged and dropped;
// the rest are returned by name.
func Build(ctx context.Context, specs []Spec, build Builder, log *slog.Logger) map[string]beamsh.Device {
	if log == nil {
		log = slog.Default()
	}
	if build == nil {
		build = DefaultBuilder
	}

	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	out := make(map[string]beamsh.Device, len(specs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dev, err := build(spec)
			if err != nil {
				log.Error("Could not create camera, IOC probably down.",
					"camera", spec.Name, "prefix", spec.Prefix, "err", err)
				return nil
			}
			mu.Lock()
			out[spec.Name] = dev
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors except cancellation.
	_ = g.Wait()
	return out
}
