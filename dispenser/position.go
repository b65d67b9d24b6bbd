package dispenser

import (
	"github.com/pkg/errors"

	"github.com/mediwheel/dispenser/utils"
)

// A PositionTracker is the single owner of the disc's position state. The
// motor reports steps moved; every one of them flows through ApplyDelta, and
// nothing else may change the count.
//
// The step count is signed and unbounded; it only becomes meaningful modulo
// a full revolution, which is how compartment targets are compared.
type PositionTracker struct {
	totalSteps       int64
	currentSteps     int64
	compartmentSteps []int64
	currentComp      int
	homed            bool
}

// compartmentUnknown marks the disc position as not aligned with any
// compartment.
const compartmentUnknown = -1

// NewPositionTracker builds the compartment step table. Angles are
// normalized into [0, 360) before conversion, so a disc described with -90
// and 270 gets the same slot either way.
func NewPositionTracker(totalSteps int64, compartmentAngles []float64) (*PositionTracker, error) {
	if totalSteps <= 0 {
		return nil, errors.New("total steps per revolution must be positive")
	}
	if len(compartmentAngles) == 0 {
		return nil, errors.New("at least one compartment angle is required")
	}
	table := make([]int64, len(compartmentAngles))
	for i, ang := range compartmentAngles {
		norm := utils.ModAngDeg(ang)
		table[i] = int64((norm / 360.0) * float64(totalSteps))
	}
	return &PositionTracker{
		totalSteps:       totalSteps,
		compartmentSteps: table,
		currentComp:      compartmentUnknown,
	}, nil
}

// TotalSteps is the step count of one full disc revolution.
func (pt *PositionTracker) TotalSteps() int64 {
	return pt.totalSteps
}

// ToSteps converts an angle to a step offset under the drive train.
func (pt *PositionTracker) ToSteps(angleDeg float64) int64 {
	return int64((angleDeg / 360.0) * float64(pt.totalSteps))
}

// ToDegrees converts a step offset back to an angle.
func (pt *PositionTracker) ToDegrees(steps int64) float64 {
	return (float64(steps) / float64(pt.totalSteps)) * 360.0
}

// CurrentSteps is the signed cumulative step count since the last homing.
func (pt *PositionTracker) CurrentSteps() int64 {
	return pt.currentSteps
}

// CurrentOffset is the current position folded into [0, totalSteps).
func (pt *PositionTracker) CurrentOffset() int64 {
	off := pt.currentSteps % pt.totalSteps
	if off < 0 {
		off += pt.totalSteps
	}
	return off
}

// CompartmentCount reports how many compartments the disc has.
func (pt *PositionTracker) CompartmentCount() int {
	return len(pt.compartmentSteps)
}

// CompartmentTarget returns the step offset of the given compartment, or
// false for an index outside the disc.
func (pt *PositionTracker) CompartmentTarget(i int) (int64, bool) {
	if i < 0 || i >= len(pt.compartmentSteps) {
		return 0, false
	}
	return pt.compartmentSteps[i], true
}

// CurrentCompartment is the compartment the disc last aligned with, or
// compartmentUnknown.
func (pt *PositionTracker) CurrentCompartment() int {
	return pt.currentComp
}

// Homed reports whether the position reference is valid.
func (pt *PositionTracker) Homed() bool {
	return pt.homed
}

// ApplyDelta accounts for steps the motor actually moved. Any physical
// motion invalidates compartment alignment until the caller re-asserts it.
func (pt *PositionTracker) ApplyDelta(steps int64) {
	if steps == 0 {
		return
	}
	pt.currentSteps += steps
	pt.currentComp = compartmentUnknown
}

// MarkAtCompartment records that the disc is aligned with the given
// compartment. Out-of-range indices are ignored.
func (pt *PositionTracker) MarkAtCompartment(i int) {
	if i < 0 || i >= len(pt.compartmentSteps) {
		return
	}
	pt.currentComp = i
}

// ResetToHome zeroes the position at the home reference and validates it.
func (pt *PositionTracker) ResetToHome() {
	pt.currentSteps = 0
	pt.currentComp = compartmentUnknown
	pt.homed = true
}

// Invalidate drops the position reference, forcing a re-home before the
// next positioned move.
func (pt *PositionTracker) Invalidate() {
	pt.homed = false
	pt.currentComp = compartmentUnknown
}
