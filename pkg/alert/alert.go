// Package alert reports operational failures (exhausted fan-out jobs,
// sweeper errors) to Sentry. Without a DSN every call is a no-op.
package alert

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/newsfeed/config"
)

func Init(cfg config.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
}

// Capture sends err with the given tags. Safe to call before Init.
func Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func Flush() { sentry.Flush(2 * time.Second) }
