package objconf

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"beamsh"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReadAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj_config.yml")
	content := `
mot1:
  rename: sample_x
  doc: sample stage horizontal
old_cam:
  hide: true
chatty:
  mute_logs: true
ghost:
  rename: anything
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	ns := beamsh.NewNamespace()
	ns.Set("mot1", "motor")
	ns.Set("old_cam", "camera")
	ns.Set("chatty", "signal")

	var muted []string
	Apply(ns, settings, func(name string) { muted = append(muted, name) }, discard())

	if _, ok := ns.Get("mot1"); ok {
		t.Fatal("mot1 not renamed")
	}
	obj, ok := ns.Get("sample_x")
	if !ok || obj != "motor" {
		t.Fatalf("sample_x = %v, %v", obj, ok)
	}
	if ns.Doc("sample_x") != "sample stage horizontal" {
		t.Fatalf("doc = %q", ns.Doc("sample_x"))
	}
	if _, ok := ns.Get("old_cam"); ok {
		t.Fatal("old_cam not hidden")
	}
	if len(muted) != 1 || muted[0] != "chatty" {
		t.Fatalf("muted = %v", muted)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("want error")
	}
}

func TestReadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("mot1: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("want error")
	}
}
