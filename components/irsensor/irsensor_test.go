package irsensor

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/mediwheel/dispenser/board/fake"
)

func fastConfig() Config {
	return Config{Pin: "ir", PollIntervalMsec: 1}
}

func TestDetectingPolarity(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	ctx := context.Background()

	s, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// Break-beam module: beam interrupted pulls the line low.
	b.Pin("ir").Hold(false)
	detecting, err := s.Detecting(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detecting, test.ShouldBeTrue)

	b.Pin("ir").Hold(true)
	detecting, err = s.Detecting(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detecting, test.ShouldBeFalse)
}

func TestWaitForDetectionSeesEdge(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	ctx := context.Background()

	s, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// Clear beam for a few polls, then a pill falls through.
	b.Pin("ir").EnqueueReads(true, true, true, false)
	detected, err := s.WaitForDetection(ctx, 500*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detected, test.ShouldBeTrue)
}

func TestLevelWithoutEdgeIsNotDetection(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	ctx := context.Background()

	s, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// A pill resting in the chute holds the beam interrupted from the start;
	// no transition means no detection.
	b.Pin("ir").Hold(false)
	detected, err := s.WaitForDetection(ctx, 20*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detected, test.ShouldBeFalse)
}

func TestCountDetections(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	ctx := context.Background()

	s, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// Two distinct drops inside the window.
	b.Pin("ir").EnqueueReads(true, false, true, false, true)
	n, err := s.CountDetections(ctx, 50*time.Millisecond, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
}
