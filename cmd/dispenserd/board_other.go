//go:build !linux

package main

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/mediwheel/dispenser/board"
	"github.com/mediwheel/dispenser/board/fake"
	"github.com/mediwheel/dispenser/board/firmata"
	"github.com/mediwheel/dispenser/dispenser"
)

func openBoard(ctx context.Context, cfg dispenser.BoardConfig, logger golog.Logger) (board.Board, error) {
	switch cfg.Type {
	case "fake":
		return fake.NewBoard(), nil
	case "firmata":
		var conf firmata.Config
		if err := decodeAttributes(cfg.Attributes, &conf); err != nil {
			return nil, errors.Wrap(err, "error parsing firmata board attributes")
		}
		if err := conf.Validate("board"); err != nil {
			return nil, err
		}
		return firmata.NewBoard(ctx, conf, logger)
	case "linux":
		return nil, errors.New("linux GPIO boards are only available on linux builds")
	default:
		return nil, errors.Errorf("unknown board type %q", cfg.Type)
	}
}
