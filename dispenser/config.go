// Package dispenser coordinates the disc motor, gate servo, electromagnet
// pickup, home switch, and drop detector into a pill dispensing machine.
package dispenser

import (
	"encoding/json"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mediwheel/dispenser/components/encoder"
	"github.com/mediwheel/dispenser/components/gateservo"
	"github.com/mediwheel/dispenser/components/homeswitch"
	"github.com/mediwheel/dispenser/components/irsensor"
	"github.com/mediwheel/dispenser/components/magnet"
	"github.com/mediwheel/dispenser/components/stepper"
)

// HomingConfig tunes the homing sequence. Each retry runs slower and waits
// longer than the one before it.
type HomingConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Per-attempt search timeout, grown by the increment on every retry.
	TimeoutMsec          int `json:"timeout_msec,omitempty"`
	TimeoutIncrementMsec int `json:"timeout_increment_msec,omitempty"`

	// Search speed, slowed by the decrement on every retry. Zero means start
	// at the motor's default pulse width. The motor clamps the result to its
	// safe range either way.
	PulseWidthUsec          int `json:"pulse_width_usec,omitempty"`
	PulseWidthDecrementUsec int `json:"pulse_width_decrement_usec,omitempty"`

	// BackoffDeg is how far to reverse when homing starts with the switch
	// already pressed; NudgeDeg is the forward bump between failed attempts.
	BackoffDeg float64 `json:"backoff_deg,omitempty"`
	NudgeDeg   float64 `json:"nudge_deg,omitempty"`

	SettleMsec int `json:"settle_msec,omitempty"`
}

// DispenseConfig tunes a dispense cycle.
type DispenseConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty"`

	// How long to watch the drop detector after a gate sweep.
	DetectionWindowMsec int `json:"detection_window_msec,omitempty"`

	InterAttemptDelayMsec  int `json:"inter_attempt_delay_msec,omitempty"`
	InterDispenseDelayMsec int `json:"inter_dispense_delay_msec,omitempty"`

	// AutoHomeAfter re-homes the disc after any cycle that released a pill,
	// so drift from gate vibration never accumulates. On by default.
	AutoHomeAfter *bool `json:"auto_home_after,omitempty"`
}

// BoardConfig selects the GPIO backend the machine is wired to. The
// attributes blob is decoded by whichever backend gets opened, so this
// package never needs to know the backends' schemas.
type BoardConfig struct {
	// Type selects the backend: "fake", "linux", or "firmata".
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Config is the full machine description, normally loaded from JSON.
type Config struct {
	Board BoardConfig `json:"board,omitempty"`

	// CompartmentAngles places each compartment on the disc, in degrees from
	// the home position. Angles outside [0, 360) are normalized.
	CompartmentAngles []float64 `json:"compartment_angles"`

	Stepper    stepper.Config    `json:"stepper"`
	GateServo  gateservo.Config  `json:"gate_servo"`
	Magnet     magnet.Config     `json:"magnet"`
	HomeSwitch homeswitch.Config `json:"home_switch"`
	IRSensor   irsensor.Config   `json:"ir_sensor"`

	// Encoder is optional diagnostic telemetry.
	Encoder *encoder.Config `json:"encoder,omitempty"`

	Homing   HomingConfig   `json:"homing,omitempty"`
	Dispense DispenseConfig `json:"dispense,omitempty"`

	SettleAfterMoveMsec int `json:"settle_after_move_msec,omitempty"`
}

// Defaults for the homing and dispense sequences.
const (
	defaultHomingMaxAttempts        = 3
	defaultHomingTimeoutMsec        = 15000
	defaultHomingTimeoutIncrMsec    = 5000
	defaultHomingPulseWidthDecrUsec = 2000
	defaultHomingBackoffDeg         = 10
	defaultHomingNudgeDeg           = 5
	defaultHomingSettleMsec         = 500
	defaultHomingRetryWaitMsec      = 500
	defaultHomingNudgeSettleMsec    = 200
	defaultDispenseMaxAttempts      = 3
	defaultDetectionWindowMsec      = 2000
	defaultInterAttemptDelayMsec    = 1000
	defaultInterDispenseDelayMsec   = 1000
	defaultSettleAfterMoveMsec      = 300
)

// ReadConfig loads a config from a JSON file, substituting ${ENV_VAR}
// references first.
func ReadConfig(path string) (*Config, error) {
	raw, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file %s", path)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "error parsing config file %s", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if len(cfg.CompartmentAngles) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "compartment_angles")
	}
	if err := cfg.Stepper.Validate(path + ".stepper"); err != nil {
		return err
	}
	if err := cfg.GateServo.Validate(path + ".gate_servo"); err != nil {
		return err
	}
	if err := cfg.Magnet.Validate(path + ".magnet"); err != nil {
		return err
	}
	if err := cfg.HomeSwitch.Validate(path + ".home_switch"); err != nil {
		return err
	}
	if err := cfg.IRSensor.Validate(path + ".ir_sensor"); err != nil {
		return err
	}
	if cfg.Encoder != nil {
		if err := cfg.Encoder.Validate(path + ".encoder"); err != nil {
			return err
		}
	}
	if err := cfg.Homing.Validate(path + ".homing"); err != nil {
		return err
	}
	if err := cfg.Dispense.Validate(path + ".dispense"); err != nil {
		return err
	}
	if cfg.SettleAfterMoveMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("settle_after_move_msec cannot be negative"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *HomingConfig) Validate(path string) error {
	if cfg.MaxAttempts < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_attempts cannot be negative"))
	}
	if cfg.TimeoutMsec < 0 || cfg.TimeoutIncrementMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("timeouts cannot be negative"))
	}
	if cfg.PulseWidthUsec < 0 || cfg.PulseWidthDecrementUsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("pulse widths cannot be negative"))
	}
	if cfg.BackoffDeg < 0 || cfg.NudgeDeg < 0 {
		return goutils.NewConfigValidationError(path, errors.New("angles cannot be negative"))
	}
	if cfg.SettleMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("settle_msec cannot be negative"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *DispenseConfig) Validate(path string) error {
	if cfg.MaxAttempts < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_attempts cannot be negative"))
	}
	if cfg.DetectionWindowMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("detection_window_msec cannot be negative"))
	}
	if cfg.InterAttemptDelayMsec < 0 || cfg.InterDispenseDelayMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("delays cannot be negative"))
	}
	return nil
}
