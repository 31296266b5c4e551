package devdb

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"beamsh"
	"beamsh/device"
)

// Builder constructs one device from an inventory record.
type Builder func(rec Record) (beamsh.Device, error)

// Registry maps inventory kinds to constructors. The session builds
// one with Builtin and user modules may extend it.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

// Builtin returns a registry with the standard device kinds.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("motor", func(rec Record) (beamsh.Device, error) {
		return device.NewPositioner(rec.Name, rec.Prefix), nil
	})
	r.Register("slits", func(rec Record) (beamsh.Device, error) {
		return device.NewSlits(rec.Name, rec.Prefix), nil
	})
	r.Register("camera", func(rec Record) (beamsh.Device, error) {
		return device.NewAreaDetector(rec.Name, rec.Prefix), nil
	})
	r.Register("signal", func(rec Record) (beamsh.Device, error) {
		return device.NewSignal(rec.Name, rec.Prefix), nil
	})
	return r
}

// Register adds or replaces a builder for kind.
func (r *Registry) Register(kind string, b Builder) {
	r.builders[strings.ToLower(kind)] = b
}

// Build constructs a single device from a record using the builder
// registered for its kind.
func (r *Registry) Build(rec Record) (beamsh.Device, error) {
	builder, ok := r.builders[strings.ToLower(rec.Kind)]
	if !ok {
		return nil, fmt.Errorf("no constructor for kind %q", rec.Kind)
	}
	return builder(rec)
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Options tunes LoadDevices.
type Options struct {
	// Exclude lists device names to skip outright.
	Exclude []string
	// Level skips records whose metadata load_level exceeds it.
	// Zero loads everything.
	Level int
	// Log receives per-device progress; nil uses the default.
	Log *slog.Logger
}

// LoadDevices instantiates the active devices for a beamline. A record
// that fails to build is logged and skipped; the rest proceed. Devices
// come back in beam order.
func LoadDevices(store *Store, reg *Registry, beamline string, opts Options) ([]beamsh.Device, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	records, err := store.Search(beamline)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[name] = struct{}{}
	}

	var out []beamsh.Device
	for _, rec := range records {
		if _, skip := exclude[rec.Name]; skip {
			log.Info("Skipping excluded device.", "device", rec.Name)
			continue
		}
		if opts.Level > 0 && recordLevel(rec) > opts.Level {
			log.Debug("Skipping device above the load level.",
				"device", rec.Name, "level", recordLevel(rec))
			continue
		}
		builder, ok := reg.builders[strings.ToLower(rec.Kind)]
		if !ok {
			log.Warn("No constructor for device kind.", "device", rec.Name, "kind", rec.Kind)
			continue
		}
		dev, err := builder(rec)
		if err != nil {
			log.Error("Could not create device.", "device", rec.Name, "err", err)
			continue
		}
		out = append(out, dev)
	}
	return out, nil
}

func recordLevel(rec Record) int {
	v, ok := rec.Metadata["load_level"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// Beampath is the beamline's devices in beam order with their
// positions, for quick where-is-everything inspection.
type Beampath struct {
	beamline string
	devices  []beamsh.Device
	z        map[string]float64
}

// NewBeampath derives the path from the loaded devices and their
// inventory records.
func NewBeampath(beamline string, devices []beamsh.Device, records []Record) *Beampath {
	z := make(map[string]float64, len(records))
	for _, rec := range records {
		z[rec.Name] = rec.Z
	}
	ordered := make([]beamsh.Device, len(devices))
	copy(ordered, devices)
	sort.SliceStable(ordered, func(i, j int) bool {
		return z[ordered[i].Name()] < z[ordered[j].Name()]
	})
	return &Beampath{beamline: beamline, devices: ordered, z: z}
}

// Devices returns the path in beam order.
func (b *Beampath) Devices() []beamsh.Device { return b.devices }

// Position returns the beam-axis position of a device on the path.
func (b *Beampath) Position(name string) (float64, bool) {
	v, ok := b.z[name]
	return v, ok
}

// Show renders the path one device per line.
func (b *Beampath) Show() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s beampath:\n", b.beamline)
	for _, dev := range b.devices {
		fmt.Fprintf(&sb, "  %8.3f m  %-20s %s\n", b.z[dev.Name()], dev.Name(), dev.Describe())
	}
	return sb.String()
}
