package devdb

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"beamsh"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "devices.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, recs ...Record) {
	t.Helper()
	for _, rec := range recs {
		if err := s.Put(rec); err != nil {
			t.Fatalf("Put %s: %v", rec.Name, err)
		}
	}
}

func TestSearchReturnsActiveInBeamOrder(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		Record{Name: "mot_far", Beamline: "tmo", Kind: "motor", Prefix: "TMO:MMS:02", Active: true, Z: 20},
		Record{Name: "mot_near", Beamline: "tmo", Kind: "motor", Prefix: "TMO:MMS:01", Active: true, Z: 5},
		Record{Name: "retired", Beamline: "tmo", Kind: "motor", Prefix: "TMO:MMS:03", Active: false, Z: 1},
		Record{Name: "elsewhere", Beamline: "xpp", Kind: "motor", Prefix: "XPP:MMS:01", Active: true, Z: 2},
	)

	recs, err := s.Search("tmo")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 2 || recs[0].Name != "mot_near" || recs[1].Name != "mot_far" {
		t.Fatalf("Search = %+v", recs)
	}
}

func TestPutUpsertsAndGetRoundTripsMetadata(t *testing.T) {
	s := openStore(t)
	seed(t, s, Record{
		Name: "cam1", Beamline: "tmo", Kind: "camera", Prefix: "TMO:GIGE:01",
		Active: true, Z: 3, Metadata: map[string]any{"vendor": "basler"},
	})
	seed(t, s, Record{
		Name: "cam1", Beamline: "tmo", Kind: "camera", Prefix: "TMO:GIGE:99",
		Active: true, Z: 3,
	})

	rec, err := s.Get("cam1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Prefix != "TMO:GIGE:99" {
		t.Fatalf("Prefix = %q after upsert", rec.Prefix)
	}
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("Get missing succeeded")
	}
}

func TestLoadDevicesIsolatesFailures(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		Record{Name: "good", Beamline: "tst", Kind: "motor", Prefix: "TST:MMS:01", Active: true, Z: 1},
		Record{Name: "bad", Beamline: "tst", Kind: "broken", Prefix: "TST:BRK:01", Active: true, Z: 2},
		Record{Name: "odd", Beamline: "tst", Kind: "alien", Prefix: "TST:ALN:01", Active: true, Z: 3},
		Record{Name: "also_good", Beamline: "tst", Kind: "camera", Prefix: "TST:GIGE:01", Active: true, Z: 4},
	)

	reg := Builtin()
	reg.Register("broken", func(rec Record) (beamsh.Device, error) {
		return nil, fmt.Errorf("ioc down")
	})

	devs, err := LoadDevices(s, reg, "tst", Options{Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(devs) != 2 || devs[0].Name() != "good" || devs[1].Name() != "also_good" {
		t.Fatalf("devices = %v", names(devs))
	}
}

func TestLoadDevicesHonorsExcludeAndLevel(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		Record{Name: "keep", Beamline: "tst", Kind: "motor", Prefix: "TST:MMS:01", Active: true, Z: 1},
		Record{Name: "banned", Beamline: "tst", Kind: "motor", Prefix: "TST:MMS:02", Active: true, Z: 2},
		Record{Name: "deep", Beamline: "tst", Kind: "motor", Prefix: "TST:MMS:03", Active: true, Z: 3,
			Metadata: map[string]any{"load_level": 5}},
	)

	devs, err := LoadDevices(s, Builtin(), "tst", Options{
		Exclude: []string{"banned"},
		Level:   2,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(devs) != 1 || devs[0].Name() != "keep" {
		t.Fatalf("devices = %v", names(devs))
	}
}

func TestBeampathOrdersAndRenders(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		Record{Name: "im2", Beamline: "tst", Kind: "camera", Prefix: "TST:GIGE:02", Active: true, Z: 12.5},
		Record{Name: "im1", Beamline: "tst", Kind: "camera", Prefix: "TST:GIGE:01", Active: true, Z: 2.5},
	)
	recs, err := s.Search("tst")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	devs, err := LoadDevices(s, Builtin(), "tst", Options{Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}

	path := NewBeampath("tst", devs, recs)
	got := path.Devices()
	if len(got) != 2 || got[0].Name() != "im1" {
		t.Fatalf("path = %v", names(got))
	}
	if z, ok := path.Position("im2"); !ok || z != 12.5 {
		t.Fatalf("Position(im2) = %g, %v", z, ok)
	}
	if out := path.Show(); !strings.Contains(out, "im1") || !strings.Contains(out, "12.500") {
		t.Fatalf("Show:\n%s", out)
	}
}

func names(devs []beamsh.Device) []string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.Name()
	}
	return out
}
