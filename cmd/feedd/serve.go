package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/api"
	"github.com/d60-Lab/newsfeed/internal/api/handler"
	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Description: `Starts the HTTP API. With the memory queue backend, or with
--embedded-worker, fan-out jobs and the outbox sweeper run in this process too.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "embedded-worker",
				Usage:   "consume fan-out jobs in the API process",
				EnvVars: []string{"FEED_EMBEDDED_WORKER"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.closers = append(a.closers, a.replicator.Start(4))
			if cfg.Queue.Backend == "memory" || c.Bool("embedded-worker") {
				a.closers = append(a.closers, a.runQueue(ctx), a.startSweeper())
			}

			gin.SetMode(cfg.Server.Mode)
			h := handler.New(a.publisher, a.feed, a.engagement, a.relations, a.fanout)
			router, err := api.NewRouter(h, api.Options{
				ServiceName:  serviceName(cfg.Tracing.Enabled, cfg.Tracing.ServiceName),
				JWTSecret:    cfg.JWT.Secret,
				ReadLimiter:  middleware.NewLimiter(cfg.RateLimit.ReadRPS, cfg.RateLimit.ReadBurst),
				WriteLimiter: middleware.NewLimiter(cfg.RateLimit.WriteRPS, cfg.RateLimit.WriteBurst),
				DB:           a.db,
				Redis:        a.rdb,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func serviceName(enabled bool, name string) string {
	if !enabled {
		return ""
	}
	return name
}
