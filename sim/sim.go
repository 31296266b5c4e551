// Package sim provides the simulated hardware every session carries
// so plans can be tested without touching the beamline.
package sim

import (
	"beamsh"
	"beamsh/device"
)

// Hardware builds the standard simulated device set.
func Hardware() *beamsh.Namespace {
	ns := beamsh.NewNamespace()

	fast := device.NewPositioner("fast_motor1", "SIM:FAST:01")
	fast2 := device.NewPositioner("fast_motor2", "SIM:FAST:02")
	slow := device.NewPositioner("slow_motor", "SIM:SLOW:01")
	det := device.NewAreaDetector("sim_det", "SIM:DET:01")
	noise := device.NewSignal("sim_noise", "SIM:AI:01")

	for _, dev := range []beamsh.Device{fast, fast2, slow, det, noise} {
		ns.Set(dev.Name(), dev)
		ns.SetDoc(dev.Name(), dev.Describe())
	}
	return ns
}
