package sim

import (
	"testing"

	"beamsh"
)

func TestHardwareContents(t *testing.T) {
	ns := Hardware()
	for _, name := range []string{"fast_motor1", "fast_motor2", "slow_motor", "sim_det", "sim_noise"} {
		obj, ok := ns.Get(name)
		if !ok {
			t.Errorf("missing %s", name)
			continue
		}
		if _, isDev := obj.(beamsh.Device); !isDev {
			t.Errorf("%s is not a device", name)
		}
		if ns.Doc(name) == "" {
			t.Errorf("%s has no doc", name)
		}
	}
	if got := ns.ByCategory(beamsh.CategoryMotor).Len(); got != 3 {
		t.Fatalf("motors = %d", got)
	}
}
