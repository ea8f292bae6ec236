// Package telemetry reports sync failures to Rollbar when the operator opts in.
//
// Nothing is transmitted until Enable is called with a non-empty token.
// Every function is safe to call while disabled.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
)

var enabled atomic.Bool

// Options configures the Rollbar client.
type Options struct {
	Token       string
	Environment string
	CodeVersion string
	Host        string
}

// Enable turns on error reporting. An empty token leaves telemetry off.
func Enable(opts Options) bool {
	if opts.Token == "" {
		Disable()
		return false
	}
	rollbar.SetToken(opts.Token)
	rollbar.SetEnvironment(opts.Environment)
	rollbar.SetCodeVersion(opts.CodeVersion)
	if opts.Host != "" {
		rollbar.SetServerHost(opts.Host)
	}
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	rollbar.SetEnabled(true)
	enabled.Store(true)
	return true
}

// Disable stops all reporting.
func Disable() {
	enabled.Store(false)
	rollbar.SetEnabled(false)
}

// IsEnabled reports whether telemetry was opted into.
func IsEnabled() bool {
	return enabled.Load()
}

// TrackError reports err with extra context.
func TrackError(err error, context map[string]interface{}) {
	if !IsEnabled() || err == nil {
		return
	}
	rollbar.Error(err, context)
}

// TrackEvent reports an informational event.
func TrackEvent(name string, properties map[string]interface{}) {
	if !IsEnabled() {
		return
	}
	rollbar.Info(name, properties)
}

// RecordTiming reports a duration as an info event.
func RecordTiming(name string, duration time.Duration, tags map[string]string) {
	if !IsEnabled() {
		return
	}
	extras := map[string]interface{}{"duration_ms": duration.Milliseconds()}
	for k, v := range tags {
		extras[k] = v
	}
	rollbar.Info(name, extras)
}

// Shutdown flushes queued reports, giving up when ctx is done.
func Shutdown(ctx context.Context) error {
	if !IsEnabled() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		rollbar.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
