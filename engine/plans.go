package engine

import (
	"context"
	"fmt"

	"beamsh/device"
)

// Plans holds the full-plan constructors exposed to the shell as bp.
type Plans struct{}

// Stubs holds the single-step primitives exposed as bps.
type Stubs struct{}

// Preprocessors holds the plan wrappers exposed as bpp.
type Preprocessors struct{}

// Count triggers det num times.
func (Plans) Count(det *device.AreaDetector, num int) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		det.Start()
		defer det.Stop()
		for i := 0; i < num; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := det.Trigger(); err != nil {
				return fmt.Errorf("count point %d: %w", i, err)
			}
		}
		return nil
	}
}

// Scan moves motor from start to stop in steps points, triggering det
// at each point.
func (Plans) Scan(det *device.AreaDetector, motor *device.Positioner, start, stop float64, steps int) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		if steps < 1 {
			return fmt.Errorf("scan needs at least 1 point, got %d", steps)
		}
		det.Start()
		defer det.Stop()
		for i := 0; i < steps; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			target := start
			if steps > 1 {
				target = start + (stop-start)*float64(i)/float64(steps-1)
			}
			if err := motor.Move(target); err != nil {
				return fmt.Errorf("scan point %d: %w", i, err)
			}
			if err := det.Trigger(); err != nil {
				return fmt.Errorf("scan point %d: %w", i, err)
			}
		}
		return nil
	}
}

// Mv moves a motor to an absolute position.
func (Stubs) Mv(motor *device.Positioner, target float64) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		return motor.Move(target)
	}
}

// Mvr moves a motor by a relative amount.
func (Stubs) Mvr(motor *device.Positioner, delta float64) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		return motor.MoveRelative(delta)
	}
}

// Trigger takes one frame on det.
func (Stubs) Trigger(det *device.AreaDetector) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		return det.Trigger()
	}
}

// Sleep pauses the plan, honoring cancellation.
func (Stubs) Sleep(d func(ctx context.Context) error) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		return d(ctx)
	}
}

// Chain runs plans in order, stopping at the first failure.
func (Preprocessors) Chain(plans ...Plan) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		for i, p := range plans {
			if err := p(ctx, re); err != nil {
				return fmt.Errorf("chained plan %d: %w", i, err)
			}
		}
		return nil
	}
}

// Repeat runs plan n times.
func (Preprocessors) Repeat(n int, plan Plan) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		for i := 0; i < n; i++ {
			if err := plan(ctx, re); err != nil {
				return fmt.Errorf("repeat %d: %w", i, err)
			}
		}
		return nil
	}
}

// Finalize always runs cleanup after plan, keeping the plan's error.
func (Preprocessors) Finalize(plan, cleanup Plan) Plan {
	return func(ctx context.Context, re *RunEngine) error {
		err := plan(ctx, re)
		if cerr := cleanup(ctx, re); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
}
