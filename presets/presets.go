// Package presets manages saved motor positions. Each deployment has
// a beamline preset area shared by everyone plus one area per
// experiment; presets live in one YAML file per device.
package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Paths are the active preset directories for a session.
type Paths struct {
	// Beamline is the shared preset directory.
	Beamline string
	// Experiment is the per-experiment directory ("" when no
	// experiment is known).
	Experiment string
}

// Setup creates the preset directories under dir and returns them.
func Setup(dir, experiment string) (Paths, error) {
	root := filepath.Join(dir, "presets")
	p := Paths{Beamline: filepath.Join(root, "beamline")}
	if err := os.MkdirAll(p.Beamline, 0o777); err != nil {
		return Paths{}, fmt.Errorf("create beamline preset directory: %w", err)
	}
	if experiment != "" {
		p.Experiment = filepath.Join(root, experiment)
		if err := os.MkdirAll(p.Experiment, 0o777); err != nil {
			return Paths{}, fmt.Errorf("create experiment preset directory: %w", err)
		}
	}
	return p, nil
}

func deviceFile(dir, device string) string {
	return filepath.Join(dir, device+".yml")
}

// Save records a named position for a device in the given preset
// directory, creating or updating the device's preset file.
func Save(dir, device, name string, position float64) error {
	presets, err := load(dir, device)
	if err != nil {
		return err
	}
	presets[name] = position

	data, err := yaml.Marshal(presets)
	if err != nil {
		return fmt.Errorf("encode presets for %s: %w", device, err)
	}
	if err := os.WriteFile(deviceFile(dir, device), data, 0o644); err != nil {
		return fmt.Errorf("write presets for %s: %w", device, err)
	}
	return nil
}

// Load returns a device's saved position for a preset name.
func Load(dir, device, name string) (float64, error) {
	presets, err := load(dir, device)
	if err != nil {
		return 0, err
	}
	pos, ok := presets[name]
	if !ok {
		return 0, fmt.Errorf("no preset %q for %s", name, device)
	}
	return pos, nil
}

// List returns a device's preset names, sorted.
func List(dir, device string) ([]string, error) {
	presets, err := load(dir, device)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func load(dir, device string) (map[string]float64, error) {
	data, err := os.ReadFile(deviceFile(dir, device))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("read presets for %s: %w", device, err)
	}
	out := map[string]float64{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse presets for %s: %w", device, err)
	}
	return out, nil
}
