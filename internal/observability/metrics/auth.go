package metrics

import (
	"time"

	obserrors "github.com/target/mmk-auth/internal/observability/errors"
	"github.com/target/mmk-auth/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Refresh triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// SignInMetric captures the outcome of one sign-in attempt.
type SignInMetric struct {
	Method   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitSignIn emits auth.sign_in and auth.sign_in.duration.
func EmitSignIn(sink statsd.Sink, in SignInMetric) {
	if sink == nil {
		return
	}
	tags := withErrorClass(map[string]string{
		"method": in.Method,
		"result": in.Result,
	}, in.Result, in.Err)

	sink.Count("auth.sign_in", 1, tags)
	if in.Duration > 0 {
		sink.Timing("auth.sign_in.duration", in.Duration, CloneTags(tags))
	}
}

// RefreshMetric captures the outcome of one scheduled or manual refresh.
type RefreshMetric struct {
	Trigger string
	Result  string
	Err     error
}

// EmitRefresh emits auth.refresh.
func EmitRefresh(sink statsd.Sink, in RefreshMetric) {
	if sink == nil {
		return
	}
	sink.Count("auth.refresh", 1, withErrorClass(map[string]string{
		"trigger": in.Trigger,
		"result":  in.Result,
	}, in.Result, in.Err))
}

// EmitSignOut counts a sign-out. remote reports whether the identity API acknowledged it.
func EmitSignOut(sink statsd.Sink, remote bool) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if !remote {
		result = ResultNoop
	}
	sink.Count("auth.sign_out", 1, map[string]string{"remote": result})
}

// EmitStorageMigration counts a storage reconfiguration.
func EmitStorageMigration(sink statsd.Sink, from, to string, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	sink.Count("auth.storage_migration", 1, withErrorClass(map[string]string{
		"from":   from,
		"to":     to,
		"result": result,
	}, result, err))
}

func withErrorClass(tags map[string]string, result string, err error) map[string]string {
	if err != nil && result == ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	return tags
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// EmitRefreshLatency records how long one refresh call to the identity API took.
func EmitRefreshLatency(sink statsd.Sink, d time.Duration, err error) {
	if sink == nil || d <= 0 {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	sink.Timing("auth.refresh.duration", d, map[string]string{"result": result})
}

// EmitStoragePurge records one sweep of expired rows from the shared storage table.
func EmitStoragePurge(sink statsd.Sink, removed int64, elapsed time.Duration, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case removed == 0:
		result = ResultNoop
	}
	sink.Count("auth.storage_purge", 1, withErrorClass(map[string]string{"result": result}, result, err))
	if removed > 0 {
		sink.Gauge("auth.storage_purge.removed", float64(removed), nil)
	}
	if elapsed > 0 {
		sink.Timing("auth.storage_purge.duration", elapsed, nil)
	}
}
