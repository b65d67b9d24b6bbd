package dispenser

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

const sampleConfigJSON = `{
	"board": {"type": "fake"},
	"compartment_angles": [0, 72, 144, 216, 288],
	"stepper": {
		"pins": {"step": "${DISC_STEP_PIN}", "dir": "11", "en_high": "12"},
		"steps_per_revolution": 200,
		"microstepping": 8
	},
	"gate_servo": {"pin": "18"},
	"magnet": {"pin": "23"},
	"home_switch": {"pin": "24"},
	"ir_sensor": {"pin": "25"},
	"homing": {"max_attempts": 3},
	"dispense": {"max_attempts": 3}
}`

func writeSampleConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispenser.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadConfig(t *testing.T) {
	t.Setenv("DISC_STEP_PIN", "13")
	path := writeSampleConfig(t, sampleConfigJSON)

	cfg, err := ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Board.Type, test.ShouldEqual, "fake")
	test.That(t, cfg.Stepper.Pins.Step, test.ShouldEqual, "13")
	test.That(t, len(cfg.CompartmentAngles), test.ShouldEqual, 5)
	test.That(t, cfg.Stepper.Microstepping, test.ShouldEqual, 8)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadConfigBadJSON(t *testing.T) {
	path := writeSampleConfig(t, "{")
	_, err := ReadConfig(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	valid := fastControllerConfig()
	test.That(t, valid.Validate("dispenser"), test.ShouldBeNil)

	t.Run("no compartments", func(t *testing.T) {
		bad := fastControllerConfig()
		bad.CompartmentAngles = nil
		test.That(t, bad.Validate("dispenser"), test.ShouldNotBeNil)
	})

	t.Run("bad stepper", func(t *testing.T) {
		bad := fastControllerConfig()
		bad.Stepper.Pins.Step = ""
		test.That(t, bad.Validate("dispenser"), test.ShouldNotBeNil)
	})

	t.Run("bad magnet", func(t *testing.T) {
		bad := fastControllerConfig()
		bad.Magnet.Pin = ""
		test.That(t, bad.Validate("dispenser"), test.ShouldNotBeNil)
	})

	t.Run("negative homing attempts", func(t *testing.T) {
		bad := fastControllerConfig()
		bad.Homing.MaxAttempts = -1
		test.That(t, bad.Validate("dispenser"), test.ShouldNotBeNil)
	})

	t.Run("negative detection window", func(t *testing.T) {
		bad := fastControllerConfig()
		bad.Dispense.DetectionWindowMsec = -1
		test.That(t, bad.Validate("dispenser"), test.ShouldNotBeNil)
	})
}
