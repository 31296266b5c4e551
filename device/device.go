// Package device implements the beamline control objects a session
// hands to the operator: positioners, slits, detectors, and bare
// signals. The control system itself is opaque; devices keep local
// state and log every action through a logger tagged with the object
// name so the session filter can attribute and rate-limit their
// output.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"beamsh"
	"beamsh/internal/logging"
)

// Base carries the pieces every device shares. Embed it and extend.
type Base struct {
	name string
	cats []beamsh.Category
	desc string
	log  *slog.Logger
}

// NewBase builds the shared device core. The logger is derived from
// the process default and tagged with the device name.
func NewBase(name, desc string, cats ...beamsh.Category) Base {
	return Base{
		name: name,
		cats: cats,
		desc: desc,
		log:  slog.Default().With(logging.ObjectNameKey, name),
	}
}

func (b *Base) Name() string                  { return b.name }
func (b *Base) Categories() []beamsh.Category { return b.cats }
func (b *Base) Describe() string              { return b.desc }

// Log returns the device's tagged logger.
func (b *Base) Log() *slog.Logger { return b.log }

// Positioner is a single-axis motor with a settable position and
// user-defined soft limits.
type Positioner struct {
	Base

	mu       sync.Mutex
	prefix   string
	position float64
	lowLim   float64
	highLim  float64
	limited  bool
}

// NewPositioner builds a motor for the given control-system prefix.
func NewPositioner(name, prefix string) *Positioner {
	p := &Positioner{
		Base:   NewBase(name, fmt.Sprintf("motor %s", prefix), beamsh.CategoryMotor),
		prefix: prefix,
	}
	return p
}

// Prefix returns the control-system prefix.
func (p *Positioner) Prefix() string { return p.prefix }

// Position returns the current readback.
func (p *Positioner) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// SetLimits installs soft travel limits. low > high removes them.
func (p *Positioner) SetLimits(low, high float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if low > high {
		p.limited = false
		return
	}
	p.lowLim, p.highLim, p.limited = low, high, true
}

// Move requests an absolute move. Limit violations fail before any
// motion starts.
func (p *Positioner) Move(target float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limited && (target < p.lowLim || target > p.highLim) {
		return fmt.Errorf("%s: target %g outside limits [%g, %g]", p.name, target, p.lowLim, p.highLim)
	}
	p.log.Info("Moving.", "from", p.position, "to", target)
	p.position = target
	return nil
}

// MoveRelative shifts the position by delta.
func (p *Positioner) MoveRelative(delta float64) error {
	return p.Move(p.Position() + delta)
}

// Signal is a single scalar value in the control system.
type Signal struct {
	Base

	mu     sync.Mutex
	prefix string
	value  float64
}

func NewSignal(name, prefix string) *Signal {
	return &Signal{
		Base:   NewBase(name, fmt.Sprintf("signal %s", prefix), beamsh.CategorySignal),
		prefix: prefix,
	}
}

func (s *Signal) Prefix() string { return s.prefix }

func (s *Signal) Get() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Signal) Put(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("Setting value.", "from", s.value, "to", v)
	s.value = v
}

// Slits is a four-blade aperture addressed by gap and center.
type Slits struct {
	Base

	mu      sync.Mutex
	prefix  string
	xGap    float64
	yGap    float64
	xCenter float64
	yCenter float64
}

func NewSlits(name, prefix string) *Slits {
	return &Slits{
		Base:   NewBase(name, fmt.Sprintf("slits %s", prefix), beamsh.CategorySlit),
		prefix: prefix,
	}
}

func (s *Slits) Prefix() string { return s.prefix }

// Gap returns the x and y gaps.
func (s *Slits) Gap() (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xGap, s.yGap
}

// SetGap moves both blade pairs to the requested gaps.
func (s *Slits) SetGap(x, y float64) error {
	if x < 0 || y < 0 {
		return fmt.Errorf("%s: negative gap %g x %g", s.name, x, y)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("Setting gap.", "x", x, "y", y)
	s.xGap, s.yGap = x, y
	return nil
}

// Center returns the aperture center.
func (s *Slits) Center() (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xCenter, s.yCenter
}

// SetCenter moves the aperture center.
func (s *Slits) SetCenter(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("Setting center.", "x", x, "y", y)
	s.xCenter, s.yCenter = x, y
}

// AreaDetector is a camera. Acquisition is a local toggle; frames are
// whatever the viewer attached to the prefix shows.
type AreaDetector struct {
	Base

	mu        sync.Mutex
	prefix    string
	acquiring bool
	frames    int
}

func NewAreaDetector(name, prefix string) *AreaDetector {
	return &AreaDetector{
		Base:   NewBase(name, fmt.Sprintf("camera %s", prefix), beamsh.CategoryDetector),
		prefix: prefix,
	}
}

func (d *AreaDetector) Prefix() string { return d.prefix }

// Start begins acquisition.
func (d *AreaDetector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquiring {
		return
	}
	d.acquiring = true
	d.log.Info("Acquisition started.")
}

// Stop ends acquisition.
func (d *AreaDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquiring {
		return
	}
	d.acquiring = false
	d.log.Info("Acquisition stopped.")
}

// Acquiring reports whether the camera is taking frames.
func (d *AreaDetector) Acquiring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquiring
}

// Trigger records one frame while acquiring.
func (d *AreaDetector) Trigger() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquiring {
		return fmt.Errorf("%s: triggered while not acquiring", d.name)
	}
	d.frames++
	return nil
}

// Frames returns the number of frames taken this session.
func (d *AreaDetector) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}
