// The dispenserd command drives a pill dispenser from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/mediwheel/dispenser/dispenser"
)

func main() {
	var logger golog.Logger

	app := &cli.App{
		Name:  "dispenserd",
		Usage: "drive a rotary pill dispenser",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Usage:    "path to the machine config JSON",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "board",
				Usage: "override the board backend (fake, linux, or firmata)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logger = golog.NewDebugLogger("dispenserd")
			} else {
				logger = golog.NewLogger("dispenserd")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "home",
				Usage: "establish the disc position reference",
				Action: func(c *cli.Context) error {
					return withController(c, &logger, func(ctx context.Context, ctrl *dispenser.Controller) error {
						homed, err := ctrl.RunHoming(ctx)
						if err != nil {
							return err
						}
						if !homed {
							return errors.New("homing failed; check the disc and home switch")
						}
						fmt.Fprintln(c.App.Writer, "homed")
						return nil
					})
				},
			},
			{
				Name:  "dispense",
				Usage: "release pills from a compartment",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "compartment",
						Usage:    "compartment index, counting from zero",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "number of pills to release",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					return withController(c, &logger, func(ctx context.Context, ctrl *dispenser.Controller) error {
						dispensed, err := ctrl.Dispense(ctx, c.Int("compartment"), c.Int("count"))
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "dispensed %d of %d\n", dispensed, c.Int("count"))
						if dispensed < c.Int("count") {
							return errors.New("some pills were not confirmed dispensed")
						}
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "print the machine state",
				Action: func(c *cli.Context) error {
					return withController(c, &logger, func(ctx context.Context, ctrl *dispenser.Controller) error {
						fmt.Fprintf(c.App.Writer, "homed: %t\n", ctrl.IsHomed())
						fmt.Fprintf(c.App.Writer, "compartment: %d\n", ctrl.CurrentCompartment())
						fmt.Fprintf(c.App.Writer, "total dispensed: %d\n", ctrl.TotalDispensed())
						if ticks, ok := ctrl.EncoderTicks(); ok {
							fmt.Fprintf(c.App.Writer, "encoder ticks: %d\n", ticks)
						}
						return nil
					})
				},
			},
			{
				Name:  "calibrate",
				Usage: "home the disc, time one full revolution, and estimate travel times",
				Action: func(c *cli.Context) error {
					return withController(c, &logger, func(ctx context.Context, ctrl *dispenser.Controller) error {
						elapsed, err := ctrl.Calibrate(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "full revolution took %v\n", elapsed)
						for i, est := range ctrl.TravelEstimates(elapsed) {
							fmt.Fprintf(c.App.Writer, "compartment %d: ~%v travel from home\n", i, est)
						}
						return nil
					})
				},
			},
			{
				Name:  "reset-stats",
				Usage: "zero the per-compartment dispense counters",
				Action: func(c *cli.Context) error {
					return withController(c, &logger, func(ctx context.Context, ctrl *dispenser.Controller) error {
						ctrl.ResetStatistics()
						fmt.Fprintln(c.App.Writer, "statistics reset")
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		golog.Global().Fatal(err)
	}
}

// withController loads the config, opens the board, builds the controller,
// runs fn, and tears everything down in reverse order.
func withController(c *cli.Context, logger *golog.Logger, fn func(context.Context, *dispenser.Controller) error) (err error) {
	ctx := c.Context

	cfg, err := dispenser.ReadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if override := c.String("board"); override != "" {
		cfg.Board.Type = override
	}
	if cfg.Board.Type == "" {
		return errors.New("board.type (or --board) is required: fake, linux, or firmata")
	}

	b, err := openBoard(ctx, cfg.Board, *logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, b.Close(ctx))
	}()

	ctrl, err := dispenser.New(ctx, b, *cfg, *logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, ctrl.Close(ctx))
	}()

	return fn(ctx, ctrl)
}

func decodeAttributes(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
