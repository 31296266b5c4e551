package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
hutch: tmo
db: happi_db.sqlite
load:
  - tmo/beamline
  - tmo/extras
experiment: tmox12345
daq_platform:
  default: 0
  tmo-console: 2
daq_type: sim
camcfg: camviewer.cfg
obj_config: obj_config.yml
exclude_devices:
  - im1k0
load_level: 1
session_timer: 3600
`)
	cfg, err := Parse(data, discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Hutch != "tmo" {
		t.Errorf("Hutch = %q", cfg.Hutch)
	}
	if cfg.DB != "happi_db.sqlite" {
		t.Errorf("DB = %q", cfg.DB)
	}
	if len(cfg.Load) != 2 || cfg.Load[0] != "tmo/beamline" {
		t.Errorf("Load = %v", cfg.Load)
	}
	if cfg.Experiment != "tmox12345" {
		t.Errorf("Experiment = %q", cfg.Experiment)
	}
	if cfg.DAQType != DAQTypeSim {
		t.Errorf("DAQType = %q", cfg.DAQType)
	}
	if cfg.LoadLevel != 1 {
		t.Errorf("LoadLevel = %d", cfg.LoadLevel)
	}
	if cfg.SessionTimer != 3600 {
		t.Errorf("SessionTimer = %d", cfg.SessionTimer)
	}
	if len(cfg.ExcludeDevices) != 1 || cfg.ExcludeDevices[0] != "im1k0" {
		t.Errorf("ExcludeDevices = %v", cfg.ExcludeDevices)
	}
}

func TestParseBadValuesDegradeToAbsent(t *testing.T) {
	data := []byte(`
hutch: [not, a, string]
load: 42
daq_type: maybe
session_timer: soon
`)
	cfg, err := Parse(data, discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Hutch != "" {
		t.Errorf("Hutch = %q, want empty", cfg.Hutch)
	}
	if cfg.Load != nil {
		t.Errorf("Load = %v, want nil", cfg.Load)
	}
	if cfg.DAQType != DAQTypeTCP {
		t.Errorf("DAQType = %q, want default", cfg.DAQType)
	}
	if cfg.SessionTimer != DefaultSessionTimer {
		t.Errorf("SessionTimer = %d, want default", cfg.SessionTimer)
	}
}

func TestParseSingleStringLoadList(t *testing.T) {
	cfg, err := Parse([]byte("load: tmo/beamline\n"), discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Load) != 1 || cfg.Load[0] != "tmo/beamline" {
		t.Errorf("Load = %v", cfg.Load)
	}
}

func TestParseInvalidYAMLFails(t *testing.T) {
	if _, err := Parse([]byte("hutch: [unclosed\n"), discard()); err == nil {
		t.Fatal("want parse error")
	}
}

func TestPlatformSelect(t *testing.T) {
	cfg, err := Parse([]byte(`
daq_platform:
  default: 0
  xpp-control: 3
`), discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p, def := cfg.DAQPlatform.Select("xpp-control"); p != 3 || def {
		t.Errorf("Select(xpp-control) = %d, %v", p, def)
	}
	if p, def := cfg.DAQPlatform.Select("elsewhere"); p != 0 || !def {
		t.Errorf("Select(elsewhere) = %d, %v", p, def)
	}
}

func TestPlatformBareNumber(t *testing.T) {
	cfg, err := Parse([]byte("daq_platform: 4\n"), discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p, def := cfg.DAQPlatform.Select("anything"); p != 4 || !def {
		t.Errorf("Select = %d, %v", p, def)
	}
}

func TestPlatformEmptySelectsZeroDefault(t *testing.T) {
	var p Platform
	if got, def := p.Select("host"); got != 0 || !def {
		t.Errorf("Select = %d, %v", got, def)
	}
}

func TestResolveRelativePaths(t *testing.T) {
	cfg := &Config{Dir: "/cds/tmo", CamCfg: "camviewer.cfg", DB: "/abs/db.sqlite"}
	if got := cfg.CamCfgPath(); got != filepath.Join("/cds/tmo", "camviewer.cfg") {
		t.Errorf("CamCfgPath = %q", got)
	}
	if got := cfg.DBPath(); got != "/abs/db.sqlite" {
		t.Errorf("DBPath = %q", got)
	}
	if got := cfg.Resolve(""); got != "" {
		t.Errorf("Resolve(\"\") = %q", got)
	}
}

func TestLoadSetsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yml")
	if err := os.WriteFile(path, []byte("hutch: mfx\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
	if cfg.Hutch != "mfx" {
		t.Errorf("Hutch = %q", cfg.Hutch)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml"), discard()); err == nil {
		t.Fatal("want error")
	}
}
