package main

import (
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

func workerCmd() *cli.Command {
	return &cli.Command{
		Name:        "worker",
		Usage:       "Consume fan-out jobs",
		Description: `Runs the fan-out coordination and batch handlers against the configured queue backend, plus the outbox sweeper.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-sweeper",
				Usage: "do not run the outbox sweeper in this worker",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Queue.Backend == "memory" {
				logger.Warn("memory queue only sees jobs enqueued by this process; use serve instead")
			}
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if !c.Bool("no-sweeper") {
				a.closers = append(a.closers, a.startSweeper())
			}
			logger.Info("worker started",
				zap.String("backend", cfg.Queue.Backend),
				zap.Int("workers", cfg.Queue.Workers),
			)
			err = a.queue.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
