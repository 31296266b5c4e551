package camcfg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"beamsh"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeCfg(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseLinePrefixRules(t *testing.T) {
	cases := []struct {
		line       string
		wantName   string
		wantPrefix string
	}{
		{"GE, TST:GIGE:01:IMAGE1;TST:GIGE:CAM:01, evr, im1", "im1", "TST:GIGE:CAM:01:"},
		{"GE, TST:GIGE:01:IMAGE1, evr, im2", "im2", "TST:GIGE:01:"},
		{"GE, BARE, evr, im3", "im3", "BARE:"},
		{"GE, TST:GIGE:02:IMAGE1, evr, im4, extra, fields", "im4", "TST:GIGE:02:"},
	}
	for _, tc := range cases {
		spec, err := parseLine(tc.line)
		if err != nil {
			t.Errorf("parseLine(%q): %v", tc.line, err)
			continue
		}
		if spec.Name != tc.wantName || spec.Prefix != tc.wantPrefix {
			t.Errorf("parseLine(%q) = %q/%q, want %q/%q",
				tc.line, spec.Name, spec.Prefix, tc.wantName, tc.wantPrefix)
		}
	}
}

func TestParseLineErrors(t *testing.T) {
	var unsupported *UnsupportedConfigError
	if _, err := parseLine("AVG, TST:PV, evr, name"); !errors.As(err, &unsupported) {
		t.Errorf("non-GE type: err = %v", err)
	}

	var malformed *MalformedConfigError
	if _, err := parseLine("GE, , evr, name"); !errors.As(err, &malformed) {
		t.Errorf("empty pv: err = %v", err)
	}
	if _, err := parseLine("GE, TST:PV, evr, "); !errors.As(err, &malformed) {
		t.Errorf("empty name: err = %v", err)
	}
	if _, err := parseLine("GE, TST:PV"); !errors.As(err, &malformed) {
		t.Errorf("short line: err = %v", err)
	}
}

func TestReadSkipsCommentsAndBadLines(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "cams.cfg", strings.Join([]string{
		"# camera list",
		"",
		"GE, TST:GIGE:01:IMAGE1, evr, im1",
		"AVG, TST:OLD:01, evr, legacy",
		"GE, TST:GIGE:02:IMAGE1, evr, im2",
	}, "\n"))

	specs, err := Read(path, discard())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(specs) != 2 || specs[0].Name != "im1" || specs[1].Name != "im2" {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestReadIncludeAndDedupe(t *testing.T) {
	dir := t.TempDir()
	inner := writeCfg(t, dir, "shared.cfg", strings.Join([]string{
		"GE, TST:GIGE:01:IMAGE1, evr, shared_cam",
		"GE, TST:GIGE:03:IMAGE1, evr, extra_cam",
	}, "\n"))
	path := writeCfg(t, dir, "cams.cfg", strings.Join([]string{
		"GE, TST:GIGE:01:IMAGE1, evr, local_first",
		"include " + inner,
		"include",
		"include " + filepath.Join(dir, "missing.cfg"),
	}, "\n"))

	specs, err := Read(path, discard())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// shared_cam's prefix collides with local_first; first wins.
	if len(specs) != 2 || specs[0].Name != "local_first" || specs[1].Name != "extra_cam" {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestReadIncludeCycleTerminates(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.cfg")
	bPath := filepath.Join(dir, "b.cfg")
	writeCfg(t, dir, "a.cfg", "GE, TST:GIGE:01:IMAGE1, evr, cam_a\ninclude "+bPath)
	writeCfg(t, dir, "b.cfg", "GE, TST:GIGE:02:IMAGE1, evr, cam_b\ninclude "+aPath)

	specs, err := Read(aPath, discard())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestReadSelfIncludeReadsFileOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.cfg")
	// The include precedes the device line, so only a visited-file
	// guard stops the recursion before any spec is parsed.
	writeCfg(t, dir, "loop.cfg", "include "+path+"\nGE, TST:GIGE:01:IMAGE1, evr, cam_loop")

	specs, err := Read(path, discard())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "cam_loop" {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope.cfg"), discard()); err == nil {
		t.Fatal("want error")
	}
}

func TestBuildIsolatesFailures(t *testing.T) {
	specs := []Spec{
		{Name: "ok1", Prefix: "TST:A:"},
		{Name: "down", Prefix: "TST:B:"},
		{Name: "ok2", Prefix: "TST:C:"},
	}
	build := func(spec Spec) (beamsh.Device, error) {
		if spec.Name == "down" {
			return nil, fmt.Errorf("no route to host")
		}
		return DefaultBuilder(spec)
	}

	got := Build(context.Background(), specs, build, discard())
	if len(got) != 2 {
		t.Fatalf("built %d cameras: %v", len(got), got)
	}
	if _, ok := got["down"]; ok {
		t.Fatal("failed camera present")
	}
	if got["ok1"].Name() != "ok1" {
		t.Fatalf("ok1 = %v", got["ok1"])
	}
}

func FuzzParseLine(f *testing.F) {
	f.Add("GE, TST:GIGE:01:IMAGE1;TST:CAM, evr, im1")
	f.Add("GE, TST:GIGE:01:IMAGE1, evr, im2, extra")
	f.Add("AVG, X, Y, Z")
	f.Add("GE,,,")
	f.Add("include something")
	f.Fuzz(func(t *testing.T, line string) {
		spec, err := parseLine(line)
		if err != nil {
			return
		}
		if spec.Name == "" || spec.PV == "" {
			t.Fatalf("accepted spec with empty field: %+v", spec)
		}
		if !strings.HasSuffix(spec.Prefix, ":") {
			t.Fatalf("prefix missing trailing colon: %+v", spec)
		}
	})
}
