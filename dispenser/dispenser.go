package dispenser

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mediwheel/dispenser/board"
	"github.com/mediwheel/dispenser/components/encoder"
	"github.com/mediwheel/dispenser/components/gateservo"
	"github.com/mediwheel/dispenser/components/homeswitch"
	"github.com/mediwheel/dispenser/components/irsensor"
	"github.com/mediwheel/dispenser/components/magnet"
	"github.com/mediwheel/dispenser/components/stepper"
)

// A Controller owns the whole machine: it wires every component to the
// board, tracks the disc position, and serializes all operations behind one
// mutex so a dispense can never interleave with a homing run.
//
// The Controller does not own the board; the caller that opened it closes
// it.
type Controller struct {
	logger golog.Logger
	clk    clock.Clock

	motor *stepper.Motor
	gate  *gateservo.Servo
	mag   *magnet.Magnet
	sw    *homeswitch.Switch
	ir    *irsensor.Sensor
	enc   *encoder.Encoder

	tracker *PositionTracker
	homing  *HomingSequencer
	motion  *MotionPlanner
	seq     *DispenseSequencer

	interDispense time.Duration
	autoHomeAfter bool

	mu    sync.Mutex
	stats []int64
}

// New builds a Controller from a validated config on the given board.
func New(ctx context.Context, b board.Board, cfg Config, logger golog.Logger) (*Controller, error) {
	motor, err := stepper.New(b, cfg.Stepper, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error setting up disc motor")
	}
	gate, err := gateservo.New(ctx, b, cfg.GateServo, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error setting up gate servo")
	}
	mag, err := magnet.New(ctx, b, cfg.Magnet, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error setting up electromagnet")
	}
	sw, err := homeswitch.New(b, cfg.HomeSwitch, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error setting up home switch")
	}
	ir, err := irsensor.New(b, cfg.IRSensor, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error setting up drop detector")
	}
	var enc *encoder.Encoder
	if cfg.Encoder != nil {
		if enc, err = encoder.New(ctx, b, *cfg.Encoder, logger); err != nil {
			return nil, errors.Wrap(err, "error setting up disc encoder")
		}
	}

	tracker, err := NewPositionTracker(motor.TotalStepsPerRevolution(), cfg.CompartmentAngles)
	if err != nil {
		return nil, err
	}

	interMs := cfg.Dispense.InterDispenseDelayMsec
	if interMs == 0 {
		interMs = defaultInterDispenseDelayMsec
	}
	autoHome := true
	if cfg.Dispense.AutoHomeAfter != nil {
		autoHome = *cfg.Dispense.AutoHomeAfter
	}

	c := &Controller{
		logger:        logger,
		clk:           clock.New(),
		motor:         motor,
		gate:          gate,
		mag:           mag,
		sw:            sw,
		ir:            ir,
		enc:           enc,
		tracker:       tracker,
		homing:        NewHomingSequencer(motor, sw, gate, enc, tracker, cfg.Homing, logger),
		motion:        NewMotionPlanner(motor, tracker, cfg.SettleAfterMoveMsec, logger),
		seq:           NewDispenseSequencer(gate, mag, ir, cfg.Dispense, logger),
		interDispense: time.Duration(interMs) * time.Millisecond,
		autoHomeAfter: autoHome,
		stats:         make([]int64, len(cfg.CompartmentAngles)),
	}
	return c, nil
}

// RunHoming establishes the position reference, reporting whether it
// succeeded.
func (c *Controller) RunHoming(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.homing.Home(ctx)
}

// IsHomed reports whether the disc has a valid position reference.
func (c *Controller) IsHomed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Homed()
}

// CurrentCompartment is the compartment the disc last aligned with, or -1.
func (c *Controller) CurrentCompartment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.CurrentCompartment()
}

// Dispense rotates to the given compartment and tries to release count
// pills, returning how many were confirmed dropped.
//
// If the disc has no position reference it is homed first; a failed homing
// aborts the whole operation with zero dispensed rather than guessing at
// where the disc is.
func (c *Controller) Dispense(ctx context.Context, compartment, count int) (int, error) {
	if count <= 0 {
		return 0, errors.Errorf("dispense count must be positive, got %d", count)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if compartment < 0 || compartment >= c.tracker.CompartmentCount() {
		return 0, errors.Errorf("no compartment %d on a %d compartment disc",
			compartment, c.tracker.CompartmentCount())
	}

	if !c.tracker.Homed() {
		homed, err := c.homing.Home(ctx)
		if err != nil {
			return 0, err
		}
		if !homed {
			c.logger.Errorw("dispense aborted; homing failed", "compartment", compartment)
			return 0, nil
		}
	}

	aligned, err := c.motion.MoveToCompartment(ctx, compartment)
	if err != nil {
		return 0, err
	}
	if !aligned {
		return 0, errors.Errorf("couldn't align disc with compartment %d", compartment)
	}

	dispensed := 0
	for i := 0; i < count; i++ {
		ok, err := c.seq.Dispense(ctx)
		if err != nil {
			return dispensed, err
		}
		if ok {
			dispensed++
			c.stats[compartment]++
		} else {
			c.logger.Warnw("pill not released", "compartment", compartment)
		}
		if i < count-1 {
			if !waitFor(ctx, c.clk, c.interDispense) {
				return dispensed, ctx.Err()
			}
		}
	}

	if dispensed > 0 && c.autoHomeAfter {
		if _, err := c.homing.Home(ctx); err != nil {
			return dispensed, err
		}
	}
	return dispensed, nil
}

// Calibrate homes the disc, then times a full revolution back to the home
// switch at the default speed. Because the revolution is confirmed by the
// switch rather than by a blind step count, a slipping coupler or wrong
// steps-per-revolution setting shows up as a wildly off duration or an
// outright failure. Useful after reassembly.
func (c *Controller) Calibrate(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	homed, err := c.homing.Home(ctx)
	if err != nil {
		return 0, err
	}
	if !homed {
		return 0, errors.New("couldn't home before calibration")
	}

	start := c.clk.Now()
	// Clear the switch first so its next activation marks a full turn.
	moved, err := c.motor.Move(ctx, c.homing.backoffSteps, c.motor.DefaultPulseWidth())
	c.tracker.ApplyDelta(moved)
	if err != nil {
		return 0, err
	}

	ideal := time.Duration(c.tracker.TotalSteps()) * 2 * c.motor.DefaultPulseWidth()
	found, err := c.homing.seekSwitch(ctx, c.motor.DefaultPulseWidth(), 3*ideal+5*time.Second)
	if err != nil {
		return 0, err
	}
	if !found {
		c.tracker.Invalidate()
		return 0, errors.New("home switch did not reactivate within a revolution's travel")
	}
	elapsed := c.clk.Now().Sub(start)
	// The disc is back on the switch; re-zero rather than trusting the
	// untracked seek steps.
	c.homing.markHomed()
	return elapsed, nil
}

// TravelEstimates scales a measured full-revolution time into per-compartment
// travel times from home, along the shortest rotational path. Feed it the
// duration Calibrate measured.
func (c *Controller) TravelEstimates(fullRevolution time.Duration) []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.tracker.TotalSteps()
	ests := make([]time.Duration, c.tracker.CompartmentCount())
	for i := range ests {
		target, _ := c.tracker.CompartmentTarget(i)
		if target > total/2 {
			target = total - target
		}
		ests[i] = time.Duration(float64(fullRevolution) * float64(target) / float64(total))
	}
	return ests
}

// EncoderTicks reports the diagnostic encoder's signed tick count; the
// second return is false when no encoder is fitted.
func (c *Controller) EncoderTicks() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return 0, false
	}
	return c.enc.Position(), true
}

// StatisticsFor reports how many pills have been confirmed dispensed from
// the given compartment.
func (c *Controller) StatisticsFor(compartment int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if compartment < 0 || compartment >= len(c.stats) {
		return 0
	}
	return c.stats[compartment]
}

// TotalDispensed reports the confirmed dispense count across all
// compartments.
func (c *Controller) TotalDispensed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.stats {
		total += n
	}
	return total
}

// ResetStatistics zeroes all per-compartment counters.
func (c *Controller) ResetStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.stats {
		c.stats[i] = 0
	}
}

// Close parks the machine: magnet off, gate at rest, motor stopped, encoder
// worker shut down.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := multierr.Combine(
		c.mag.Deactivate(ctx),
		c.gate.Rest(ctx),
		c.motor.Stop(ctx),
	)
	if c.enc != nil {
		err = multierr.Combine(err, c.enc.Close())
	}
	return err
}
