package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	gosentry "github.com/getsentry/sentry-go"
)

var enabled atomic.Bool

// Init starts Sentry reporting. With an empty dsn every function in this
// package is a no-op.
func Init(dsn, release string) error {
	if dsn == "" {
		enabled.Store(false)
		return nil
	}
	err := gosentry.Init(gosentry.ClientOptions{
		Dsn:              dsn,
		Release:          "walletsync@" + release,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}
	gosentry.ConfigureScope(func(scope *gosentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("version", release)
	})
	enabled.Store(true)
	return nil
}

func IsEnabled() bool {
	return enabled.Load()
}

// CaptureError reports err with optional string tags.
func CaptureError(err error, tags map[string]string) {
	if !enabled.Load() || err == nil {
		return
	}
	gosentry.WithScope(func(scope *gosentry.Scope) {
		scope.SetTags(tags)
		gosentry.CaptureException(err)
	})
}

func CaptureMessage(msg string, tags map[string]string) {
	if !enabled.Load() {
		return
	}
	gosentry.WithScope(func(scope *gosentry.Scope) {
		scope.SetLevel(gosentry.LevelWarning)
		scope.SetTags(tags)
		gosentry.CaptureMessage(msg)
	})
}

// Flush waits up to 2 seconds for buffered events to be sent.
func Flush() {
	if !enabled.Load() {
		return
	}
	gosentry.Flush(2 * time.Second)
}

// RecoverPanic captures a panic, flushes, then re-panics.
// Usage: defer telemetry.RecoverPanic()
func RecoverPanic() {
	if !enabled.Load() {
		return
	}
	if err := recover(); err != nil {
		gosentry.CurrentHub().Recover(err)
		gosentry.Flush(2 * time.Second)
		panic(err)
	}
}
