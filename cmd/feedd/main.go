// feedd runs the newsfeed API server, fan-out workers and maintenance
// commands.
//
// @title newsfeed API
// @version 1.0
// @description Feed fan-out with bounded window caches, counter cache and cursor pagination.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "feedd",
		Usage: "newsfeed fan-out service",
		Description: `Serves feeds out of bounded Redis windows backed by the database.

		Configuration is read from config/config.yaml and may be overridden with
		FEED_* environment variables, e.g. FEED_QUEUE_BACKEND=redis.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "directory holding config.yaml",
				EnvVars: []string{"FEED_CONFIG_DIR"},
				Value:   "./config",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			workerCmd(),
			migrateCmd(),
			refanoutCmd(),
			tokenCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
