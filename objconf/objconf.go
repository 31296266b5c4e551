// Package objconf applies per-object overrides from the deployment's
// object configuration file after all load steps have run: renames,
// hiding from the shell, muting a chatty object's logs, and doc
// replacements. Settings for unknown objects warn and are skipped.
package objconf

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"beamsh"
)

// Setting is the override block for one object.
type Setting struct {
	// Rename gives the object a different shell name.
	Rename string `yaml:"rename"`
	// Hide removes the object from the session namespace.
	Hide bool `yaml:"hide"`
	// MuteLogs blacklists the object's log source.
	MuteLogs bool `yaml:"mute_logs"`
	// Doc replaces the object's description.
	Doc string `yaml:"doc"`
}

// Read parses the object configuration file.
func Read(path string) (map[string]Setting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read object config: %w", err)
	}
	out := map[string]Setting{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse object config: %w", err)
	}
	return out, nil
}

// Apply walks the settings in name order and applies each to ns.
// mute is called for objects whose logs should be silenced; nil skips
// that part.
func Apply(ns *beamsh.Namespace, settings map[string]Setting, mute func(name string), log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := settings[name]
		if _, ok := ns.Get(name); !ok {
			log.Warn("Object configuration names an object the session does not have.", "name", name)
			continue
		}
		if s.Hide {
			ns.Remove(name)
			log.Info("Hid object from the session.", "name", name)
			continue
		}
		if s.Doc != "" {
			ns.SetDoc(name, s.Doc)
		}
		if s.MuteLogs && mute != nil {
			mute(name)
			log.Info("Muted object logs.", "name", name)
		}
		if s.Rename != "" && s.Rename != name {
			ns.Rename(name, s.Rename)
			log.Info("Renamed object.", "from", name, "to", s.Rename)
		}
	}
}
