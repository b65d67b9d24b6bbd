package dispenser

import (
	"testing"

	"go.viam.com/test"
)

func fiveSlotTracker(t *testing.T) *PositionTracker {
	t.Helper()
	pt, err := NewPositionTracker(200, []float64{0, 72, 144, 216, 288})
	test.That(t, err, test.ShouldBeNil)
	return pt
}

func TestNewPositionTracker(t *testing.T) {
	_, err := NewPositionTracker(0, []float64{0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPositionTracker(200, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCompartmentTable(t *testing.T) {
	pt := fiveSlotTracker(t)
	want := []int64{0, 40, 80, 120, 160}
	for i, steps := range want {
		got, ok := pt.CompartmentTarget(i)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got, test.ShouldEqual, steps)
	}
	_, ok := pt.CompartmentTarget(5)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = pt.CompartmentTarget(-1)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestAngleNormalization(t *testing.T) {
	// -90 and 270 describe the same slot.
	pt, err := NewPositionTracker(360, []float64{-90, 270, 630})
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		got, ok := pt.CompartmentTarget(i)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got, test.ShouldEqual, 270)
	}
}

func TestStepDegreeRoundTrip(t *testing.T) {
	pt := fiveSlotTracker(t)
	for _, deg := range []float64{0, 72, 90, 144, 180, 288, 359} {
		back := pt.ToDegrees(pt.ToSteps(deg))
		// Quantization error is bounded by one step.
		test.That(t, back, test.ShouldAlmostEqual, deg, 360.0/200)
	}
}

func TestApplyDeltaAndOffset(t *testing.T) {
	pt := fiveSlotTracker(t)
	pt.ResetToHome()
	test.That(t, pt.Homed(), test.ShouldBeTrue)
	test.That(t, pt.CurrentSteps(), test.ShouldEqual, 0)

	pt.ApplyDelta(250)
	test.That(t, pt.CurrentSteps(), test.ShouldEqual, 250)
	test.That(t, pt.CurrentOffset(), test.ShouldEqual, 50)

	pt.ApplyDelta(-300)
	test.That(t, pt.CurrentSteps(), test.ShouldEqual, -50)
	test.That(t, pt.CurrentOffset(), test.ShouldEqual, 150)
}

func TestMotionInvalidatesCompartment(t *testing.T) {
	pt := fiveSlotTracker(t)
	pt.ResetToHome()
	pt.MarkAtCompartment(2)
	test.That(t, pt.CurrentCompartment(), test.ShouldEqual, 2)

	pt.ApplyDelta(1)
	test.That(t, pt.CurrentCompartment(), test.ShouldEqual, compartmentUnknown)
}

func TestResetToHomeZeroes(t *testing.T) {
	pt := fiveSlotTracker(t)
	pt.ResetToHome()
	pt.ApplyDelta(123)
	pt.ResetToHome()
	test.That(t, pt.CurrentSteps(), test.ShouldEqual, 0)
	test.That(t, pt.Homed(), test.ShouldBeTrue)

	pt.Invalidate()
	test.That(t, pt.Homed(), test.ShouldBeFalse)
}
