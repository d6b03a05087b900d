package crashtracker

import (
	"context"
	"time"
)

// CrashTrackerClient receives the unhandled errors and panics of the posting
// worker, the scheduler and the HTTP server. Clone returns an independent
// client for use in a concurrent goroutine.
type CrashTrackerClient interface {
	LogAndReportErrors(ctx context.Context, err error, msg string)
	LogAndReportMessages(ctx context.Context, msg string)
	FlushEvents(waitTime time.Duration) bool
	Recover()
	Clone() CrashTrackerClient
}
