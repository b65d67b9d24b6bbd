package dispenser

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/mediwheel/dispenser/components/stepper"
	"github.com/mediwheel/dispenser/utils"
)

// positionToleranceSteps is how close the disc has to be to a target before
// a move is skipped entirely. Below this the backlash in the drive train is
// larger than the error.
const positionToleranceSteps = 5

// A MotionPlanner turns compartment indices into shortest-path disc moves.
type MotionPlanner struct {
	motor   *stepper.Motor
	tracker *PositionTracker
	settle  time.Duration

	clk    clock.Clock
	logger golog.Logger
}

// NewMotionPlanner wires the planner.
func NewMotionPlanner(motor *stepper.Motor, tracker *PositionTracker, settleAfterMoveMsec int, logger golog.Logger) *MotionPlanner {
	settleMs := settleAfterMoveMsec
	if settleMs == 0 {
		settleMs = defaultSettleAfterMoveMsec
	}
	return &MotionPlanner{
		motor:   motor,
		tracker: tracker,
		settle:  time.Duration(settleMs) * time.Millisecond,
		clk:     clock.New(),
		logger:  logger,
	}
}

// DeltaToCompartment computes the signed shortest-path step delta from the
// current position to the given compartment, or false for an index outside
// the disc.
func (mp *MotionPlanner) DeltaToCompartment(i int) (int64, bool) {
	target, ok := mp.tracker.CompartmentTarget(i)
	if !ok {
		return 0, false
	}
	total := mp.tracker.TotalSteps()
	delta := target - mp.tracker.CurrentOffset()
	// Take the short way around the disc.
	if delta > total/2 {
		delta -= total
	} else if delta < -total/2 {
		delta += total
	}
	return delta, true
}

// MoveToCompartment rotates the disc to the given compartment and reports
// whether it is now aligned there. An out-of-range index returns false with
// no motion and no error. A move within tolerance of the target is skipped,
// so repeating a move is free.
func (mp *MotionPlanner) MoveToCompartment(ctx context.Context, i int) (bool, error) {
	delta, ok := mp.DeltaToCompartment(i)
	if !ok {
		mp.logger.Warnw("move to unknown compartment refused", "compartment", i)
		return false, nil
	}
	if utils.AbsInt64(delta) < positionToleranceSteps {
		mp.tracker.MarkAtCompartment(i)
		return true, nil
	}

	moved, err := mp.motor.Move(ctx, delta, mp.motor.DefaultPulseWidth())
	mp.tracker.ApplyDelta(moved)
	if err != nil {
		return false, err
	}
	if !waitFor(ctx, mp.clk, mp.settle) {
		return false, ctx.Err()
	}
	mp.tracker.MarkAtCompartment(i)
	return true, nil
}

func waitFor(ctx context.Context, clk clock.Clock, dur time.Duration) bool {
	return utils.SelectContextOrWait(ctx, clk, dur)
}
