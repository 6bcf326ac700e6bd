package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

// transientErrorKeywords flags node-runner-call errors worth retrying
// before the node's terminal NodeExecution status is recorded. Grounded in the
// shape of the (now-removed) orchestrator executor's transient-error
// sniffing: the same style of error-message matching, reused for a
// different boundary — retrying the runner *call*, never the node's
// recorded outcome (see SPEC_FULL.md §4.5a; no node retries happen once
// a terminal status is written). "timeout"-shaped keywords are kept here for
// runner calls that fail fast on a sub-deadline network timeout; a
// failure at or after the node's own deadline is never transient
// regardless of its message, see isTransientRunnerError.
var transientErrorKeywords = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"503",
	"502",
	"504",
	"context deadline exceeded",
	"i/o timeout",
	"network unreachable",
}

// isTransientRunnerError reports whether a runner-call failure (not a
// node's reported outcome, which is always terminal) looks worth
// retrying. deadline is the node's own execution deadline: once it has
// passed, the failure is the node's terminal TIMEOUT outcome, never a
// transient runner-call failure worth retrying, no matter how the
// runner phrased its error message.
func isTransientRunnerError(errMessage string, deadline time.Time) bool {
	if errMessage == "" {
		return false
	}
	if !time.Now().Before(deadline) {
		return false
	}
	lower := strings.ToLower(errMessage)
	if strings.Contains(lower, "canceled") || strings.Contains(lower, "cancelled") {
		return false
	}
	for _, kw := range transientErrorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// isContextTerminal reports whether ctx itself is the reason a runner
// call returned, in which case no retry should be attempted regardless
// of the error message.
func isContextTerminal(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
