package device

import (
	"testing"

	"beamsh"
)

func TestPositionerMoveAndLimits(t *testing.T) {
	m := NewPositioner("mot1", "TST:MMS:01")
	if err := m.Move(5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := m.Position(); got != 5 {
		t.Fatalf("Position = %g", got)
	}

	m.SetLimits(-1, 10)
	if err := m.Move(20); err == nil {
		t.Fatal("move past high limit accepted")
	}
	if got := m.Position(); got != 5 {
		t.Fatalf("failed move changed position to %g", got)
	}
	if err := m.MoveRelative(-3); err != nil {
		t.Fatalf("MoveRelative: %v", err)
	}
	if got := m.Position(); got != 2 {
		t.Fatalf("Position = %g", got)
	}

	m.SetLimits(1, -1)
	if err := m.Move(100); err != nil {
		t.Fatalf("limits not removed: %v", err)
	}
}

func TestDeviceCategories(t *testing.T) {
	cases := []struct {
		dev  beamsh.Device
		want beamsh.Category
	}{
		{NewPositioner("m", "P"), beamsh.CategoryMotor},
		{NewSignal("s", "P"), beamsh.CategorySignal},
		{NewSlits("sl", "P"), beamsh.CategorySlit},
		{NewAreaDetector("det", "P"), beamsh.CategoryDetector},
	}
	for _, tc := range cases {
		if !beamsh.HasCategory(tc.dev, tc.want) {
			t.Errorf("%s missing category %s", tc.dev.Name(), tc.want)
		}
	}
}

func TestSlitsGap(t *testing.T) {
	s := NewSlits("slit1", "TST:SLT:01")
	if err := s.SetGap(0.5, 1.5); err != nil {
		t.Fatalf("SetGap: %v", err)
	}
	x, y := s.Gap()
	if x != 0.5 || y != 1.5 {
		t.Fatalf("Gap = %g, %g", x, y)
	}
	if err := s.SetGap(-1, 0); err == nil {
		t.Fatal("negative gap accepted")
	}
}

func TestAreaDetectorTrigger(t *testing.T) {
	d := NewAreaDetector("cam1", "TST:GIGE:01")
	if err := d.Trigger(); err == nil {
		t.Fatal("trigger accepted while stopped")
	}
	d.Start()
	d.Start()
	if !d.Acquiring() {
		t.Fatal("not acquiring after Start")
	}
	for i := 0; i < 3; i++ {
		if err := d.Trigger(); err != nil {
			t.Fatalf("Trigger: %v", err)
		}
	}
	d.Stop()
	if d.Acquiring() {
		t.Fatal("still acquiring after Stop")
	}
	if got := d.Frames(); got != 3 {
		t.Fatalf("Frames = %d", got)
	}
}

func TestSignalPutGet(t *testing.T) {
	s := NewSignal("sig1", "TST:AI:01")
	s.Put(3.25)
	if got := s.Get(); got != 3.25 {
		t.Fatalf("Get = %g", got)
	}
}
