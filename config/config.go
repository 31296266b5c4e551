// Package config reads the per-deployment conf.yml that drives a
// session. Parsing is forgiving on purpose: a bad value for one key
// must not keep the rest of the session from loading, so each key is
// extracted and checked individually, degrading to absent with a
// logged error.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultSessionTimer is the idle timeout in seconds before the shell
// is asked to exit (two days).
const DefaultSessionTimer = 172800

// DAQ transport selectors for the daq_type key.
const (
	DAQTypeTCP   = "tcp"
	DAQTypeSim   = "sim"
	DAQTypeNone  = "nodaq"
	defaultDAQ   = DAQTypeTCP
	platformWild = "default"
)

var knownKeys = map[string]struct{}{
	"hutch":           {},
	"db":              {},
	"load":            {},
	"experiment":      {},
	"daq_platform":    {},
	"daq_type":        {},
	"daq_host":        {},
	"camcfg":          {},
	"obj_config":      {},
	"exclude_devices": {},
	"load_level":      {},
	"session_timer":   {},
}

// Platform maps hostnames to DAQ platform numbers, with an optional
// "default" fallback entry.
type Platform struct {
	byHost map[string]int
}

// Select returns the platform for hostname. isDefault reports whether
// the fallback entry was used rather than an exact hostname match.
func (p Platform) Select(hostname string) (platform int, isDefault bool) {
	if p.byHost == nil {
		return 0, true
	}
	if v, ok := p.byHost[hostname]; ok {
		return v, false
	}
	if v, ok := p.byHost[platformWild]; ok {
		return v, true
	}
	return 0, true
}

// Hosts lists the configured hostnames, sorted, excluding the fallback.
func (p Platform) Hosts() []string {
	var out []string
	for h := range p.byHost {
		if h != platformWild {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// Config is the parsed conf.yml. Zero values mean the key was absent
// or rejected; loaders skip their step accordingly.
type Config struct {
	// Dir is the directory containing conf.yml. Relative paths in the
	// file resolve against it.
	Dir string

	Hutch          string
	DB             string
	Load           []string
	Experiment     string
	DAQPlatform    Platform
	DAQType        string
	DAQHost        string
	CamCfg         string
	ObjConfig      string
	ExcludeDevices []string
	LoadLevel      int
	SessionTimer   int
}

// Load reads and parses path. Only unreadable or syntactically invalid
// YAML is an error; individual bad values degrade with a log message.
func Load(path string, log *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg, err := Parse(data, log)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(abs)
	return cfg, nil
}

// Parse extracts the recognized keys from raw conf.yml bytes.
func Parse(data []byte, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for _, key := range sortedRawKeys(raw) {
		if _, ok := knownKeys[key]; !ok {
			log.Warn("Found an entry in the configuration that beamsh does not understand.", "key", key)
		}
	}

	cfg := &Config{
		DAQType:      defaultDAQ,
		SessionTimer: DefaultSessionTimer,
	}
	cfg.Hutch = stringKey(raw, "hutch", log)
	cfg.DB = stringKey(raw, "db", log)
	cfg.Load = stringListKey(raw, "load", log)
	cfg.Experiment = stringKey(raw, "experiment", log)
	cfg.DAQPlatform = platformKey(raw, log)
	if v := stringKey(raw, "daq_type", log); v != "" {
		switch v {
		case DAQTypeTCP, DAQTypeSim, DAQTypeNone:
			cfg.DAQType = v
		default:
			log.Error("Invalid daq_type in the configuration, using the default.",
				"value", v, "default", defaultDAQ)
		}
	}
	cfg.DAQHost = stringKey(raw, "daq_host", log)
	cfg.CamCfg = stringKey(raw, "camcfg", log)
	cfg.ObjConfig = stringKey(raw, "obj_config", log)
	cfg.ExcludeDevices = stringListKey(raw, "exclude_devices", log)
	cfg.LoadLevel = intKey(raw, "load_level", 0, log)
	cfg.SessionTimer = intKey(raw, "session_timer", DefaultSessionTimer, log)
	return cfg, nil
}

// Resolve turns a path from the config file into an absolute path,
// interpreting relative paths against the config directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// CamCfgPath returns the resolved camera config path (maybe "").
func (c *Config) CamCfgPath() string { return c.Resolve(c.CamCfg) }

// ObjConfigPath returns the resolved object config path (maybe "").
func (c *Config) ObjConfigPath() string { return c.Resolve(c.ObjConfig) }

// DBPath returns the resolved device database path (maybe "").
func (c *Config) DBPath() string { return c.Resolve(c.DB) }

func sortedRawKeys(raw map[string]any) []string {
	out := make([]string, 0, len(raw))
	for k := range raw {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringKey(raw map[string]any, key string, log *slog.Logger) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		log.Error("Invalid value in the configuration, skipping it.",
			"key", key, "value", v, "want", "string")
		return ""
	}
	return s
}

func stringListKey(raw map[string]any, key string, log *slog.Logger) []string {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	// A single bare string counts as a one-element list.
	if s, ok := v.(string); ok {
		return []string{s}
	}
	items, ok := v.([]any)
	if !ok {
		log.Error("Invalid value in the configuration, skipping it.",
			"key", key, "value", v, "want", "list of strings")
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			log.Error("Invalid entry in the configuration, skipping it.",
				"key", key, "value", item, "want", "string")
			continue
		}
		out = append(out, s)
	}
	return out
}

func intKey(raw map[string]any, key string, fallback int, log *slog.Logger) int {
	v, ok := raw[key]
	if !ok || v == nil {
		return fallback
	}
	n, ok := v.(int)
	if !ok {
		log.Error("Invalid value in the configuration, skipping it.",
			"key", key, "value", v, "want", "integer")
		return fallback
	}
	return n
}

func platformKey(raw map[string]any, log *slog.Logger) Platform {
	v, ok := raw["daq_platform"]
	if !ok || v == nil {
		return Platform{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		// Old single-number form still supported as the fallback entry.
		if n, isInt := v.(int); isInt {
			return Platform{byHost: map[string]int{platformWild: n}}
		}
		log.Error("Invalid value in the configuration, skipping it.",
			"key", "daq_platform", "value", v, "want", "hostname to platform map")
		return Platform{}
	}
	byHost := make(map[string]int, len(m))
	for host, pv := range m {
		n, isInt := pv.(int)
		if !isInt {
			log.Error("Invalid entry in the configuration, skipping it.",
				"key", "daq_platform", "host", host, "value", pv, "want", "integer")
			continue
		}
		byHost[host] = n
	}
	if len(byHost) == 0 {
		return Platform{}
	}
	return Platform{byHost: byHost}
}
