//go:build linux

// Package linux implements the dispenser board on top of periph.io GPIO,
// with interrupt lines handled through the character-device ioctl interface.
package linux

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mediwheel/dispenser/board"
)

// DigitalInterruptConfig names an interrupt line on a GPIO chip.
type DigitalInterruptConfig struct {
	Name    string `json:"name"`
	ChipDev string `json:"chip_dev"` // e.g. /dev/gpiochip0
	Line    uint32 `json:"line"`
}

// Config describes the wiring the board should claim.
type Config struct {
	DigitalInterrupts []DigitalInterruptConfig `json:"digital_interrupts,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	for _, ic := range conf.DigitalInterrupts {
		if ic.Name == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "name")
		}
		if ic.ChipDev == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "chip_dev")
		}
	}
	return nil
}

type pwmSetting struct {
	dutyCyclePct float64
	freqHz       uint
}

// Board is a periph.io backed implementation of board.Board.
type Board struct {
	logger golog.Logger

	mu         sync.RWMutex
	pwms       map[string]pwmSetting
	interrupts map[string]*digitalInterrupt

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewBoard initializes the periph host and claims the configured interrupt
// lines.
func NewBoard(ctx context.Context, conf Config, logger golog.Logger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "error initializing periph host")
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	b := &Board{
		logger:     logger,
		pwms:       map[string]pwmSetting{},
		interrupts: map[string]*digitalInterrupt{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}

	for _, ic := range conf.DigitalInterrupts {
		di, err := b.openDigitalInterrupt(ic)
		if err != nil {
			return nil, multierr.Combine(err, b.Close(ctx))
		}
		b.interrupts[ic.Name] = di
	}
	return b, nil
}

// GPIOPinByName looks the pin up in the periph global registry.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no global pin found for %q", name)
	}
	return &periphGpioPin{b: b, pin: pin, pinName: name}, nil
}

// DigitalInterruptByName returns a configured interrupt.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	di, ok := b.interrupts[name]
	if !ok {
		return nil, errors.Errorf("cannot find digital interrupt %q", name)
	}
	return di.interrupt, nil
}

// Close stops the PWM and monitor goroutines and releases the lines.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	b.cancelFunc()
	var err error
	for _, di := range b.interrupts {
		err = multierr.Combine(err, di.Close())
	}
	// Workers take the lock per iteration; release it before waiting on them.
	b.mu.Unlock()
	b.activeBackgroundWorkers.Wait()
	return err
}

type periphGpioPin struct {
	b       *Board
	pin     gpio.PinIO
	pinName string
}

// Set sets the pin high or low, cancelling any software PWM on it.
func (gp *periphGpioPin) Set(ctx context.Context, high bool) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()
	delete(gp.b.pwms, gp.pinName)
	return gp.set(high)
}

func (gp *periphGpioPin) set(high bool) error {
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return gp.pin.Out(l)
}

// Get reads the pin level.
func (gp *periphGpioPin) Get(ctx context.Context) (bool, error) {
	return gp.pin.Read() == gpio.High, nil
}

// PWM returns the software PWM duty cycle on the pin, if any.
func (gp *periphGpioPin) PWM(ctx context.Context) (float64, error) {
	gp.b.mu.RLock()
	defer gp.b.mu.RUnlock()
	pwm, ok := gp.b.pwms[gp.pinName]
	if !ok {
		return 0, nil
	}
	return pwm.dutyCyclePct, nil
}

// SetPWM runs a software PWM loop on the pin. periph.io has no portable
// hardware PWM, so the servo line is bit-banged the same way the disc step
// line is.
func (gp *periphGpioPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	last, alreadySet := gp.b.pwms[gp.pinName]
	if last.freqHz == 0 {
		last.freqHz = 50 // servo default
	}
	last.dutyCyclePct = dutyCyclePct
	gp.b.pwms[gp.pinName] = last

	if !alreadySet {
		gp.b.startSoftwarePWMLoop(gp)
	}
	return nil
}

// PWMFreq gets the PWM frequency of the pin.
func (gp *periphGpioPin) PWMFreq(ctx context.Context) (uint, error) {
	gp.b.mu.RLock()
	defer gp.b.mu.RUnlock()
	return gp.b.pwms[gp.pinName].freqHz, nil
}

// SetPWMFreq sets the software PWM frequency of the pin.
func (gp *periphGpioPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	if freqHz == 0 {
		freqHz = 50 // servo default
	}
	last, alreadySet := gp.b.pwms[gp.pinName]
	last.freqHz = freqHz
	gp.b.pwms[gp.pinName] = last

	if !alreadySet {
		gp.b.startSoftwarePWMLoop(gp)
	}
	return nil
}

// expects to already have lock acquired.
func (b *Board) startSoftwarePWMLoop(gp *periphGpioPin) {
	b.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		b.softwarePWMLoop(b.cancelCtx, gp)
	}, b.activeBackgroundWorkers.Done)
}

func (b *Board) softwarePWMLoop(ctx context.Context, gp *periphGpioPin) {
	for {
		cont := func() bool {
			b.mu.RLock()
			pwmSetting, ok := b.pwms[gp.pinName]
			b.mu.RUnlock()
			if !ok {
				b.logger.Debugf("pwm setting for %s deleted; stopping", gp.pinName)
				return false
			}

			period := time.Second / time.Duration(pwmSetting.freqHz)
			onPeriod := time.Duration(pwmSetting.dutyCyclePct * float64(period))
			if onPeriod > 0 {
				if err := gp.set(true); err != nil {
					b.logger.Errorw("error setting pin", "pin_name", gp.pinName, "error", err)
					return true
				}
				if !goutils.SelectContextOrWait(ctx, onPeriod) {
					return false
				}
			}
			if err := gp.set(false); err != nil {
				b.logger.Errorw("error setting pin", "pin_name", gp.pinName, "error", err)
				return true
			}
			return goutils.SelectContextOrWait(ctx, period-onPeriod)
		}()
		if !cont {
			return
		}
	}
}
