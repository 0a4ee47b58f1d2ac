package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global hub. An empty DSN disables reporting and returns a no-op flush.
func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureErr reports err with optional tags.
func CaptureErr(err error, tags ...map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for _, t := range tags {
			scope.SetTags(t)
		}
		sentry.CaptureException(err)
	})
}
