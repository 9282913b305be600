package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Create or update database tables",
		Description: `Runs gorm auto-migration for every model, including the unique (owner_id, item_id) index on feed entries.`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := database.InitDB(cfg)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Printf("migrated %s database\n", cfg.Database.Driver)
			return nil
		},
	}
}

func refanoutCmd() *cli.Command {
	return &cli.Command{
		Name:      "refanout",
		Usage:     "Re-dispatch fan-out for items",
		ArgsUsage: "[item_id...]",
		Description: `Re-enqueues coordination for the given items, or for every partial
fan-out with --partial. Delivery is idempotent, so re-running is safe.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "partial",
				Usage: "re-dispatch every fan-out in status partial",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "maximum records with --partial",
				Value: 1000,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, err := newApp(c.Context, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			var ids []uint64
			for _, arg := range c.Args().Slice() {
				var id uint64
				if _, err := fmt.Sscan(arg, &id); err != nil || id == 0 {
					return fmt.Errorf("invalid item id %q", arg)
				}
				ids = append(ids, id)
			}
			if c.Bool("partial") {
				records, err := a.fanouts.ListByStatus(c.Context, model.FanoutPartial, c.Int("limit"))
				if err != nil {
					return err
				}
				for _, f := range records {
					ids = append(ids, f.ItemID)
				}
			}
			if len(ids) == 0 {
				return cli.ShowSubcommandHelp(c)
			}

			if cfg.Queue.Backend == "memory" {
				// 本进程内执行完再退出
				stopQueue := a.runQueue(c.Context)
				defer func() { _ = stopQueue(c.Context) }()
			}
			for _, id := range ids {
				if err := a.fanout.RedispatchItem(c.Context, id); err != nil {
					return fmt.Errorf("item %d: %w", id, err)
				}
				fmt.Printf("item %d re-dispatched\n", id)
			}
			if mq, ok := a.queue.(interface {
				Drain(ctx context.Context) error
			}); ok {
				return mq.Drain(c.Context)
			}
			return nil
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Mint a bearer token for local testing",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Value: 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			var id uint64
			if _, err := fmt.Sscan(c.Args().First(), &id); err != nil || id == 0 {
				return fmt.Errorf("usage: feedd token <user_id>")
			}
			tok, err := middleware.IssueToken(cfg.JWT.Secret, id, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}
