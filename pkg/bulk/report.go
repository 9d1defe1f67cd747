package bulk

import (
	"fmt"
	"time"

	"github.com/Sternrassler/bulk-request-client/pkg/batch"
)

// Item is a coordinator item with error-valued failures.
type Item[K comparable, Req, Res any] = batch.RequestItem[K, Req, Res, error]

// Report is the final state of a Runner.Run call.
type Report[K comparable, Req, Res any] struct {
	SessionID string
	Items     []Item[K, Req, Res]
	Summary   batch.Summary
	Errors    map[K]error
	Rounds    int
	Duration  time.Duration
}

func newReport[K comparable, Req, Res any](sessionID string, items []Item[K, Req, Res], rounds int, d time.Duration) *Report[K, Req, Res] {
	return &Report[K, Req, Res]{
		SessionID: sessionID,
		Items:     items,
		Summary:   batch.Summarize(items),
		Errors:    batch.ErrorMap(items),
		Rounds:    rounds,
		Duration:  d,
	}
}

// Failed reports whether at least one item failed.
func (r *Report[K, Req, Res]) Failed() bool {
	return r.Summary.Failed > 0
}

// Message returns a short user-facing summary.
func (r *Report[K, Req, Res]) Message() string {
	if r.Failed() {
		return fmt.Sprintf("Failed to add %d of %d items!", r.Summary.Failed, r.Summary.Total)
	}
	return fmt.Sprintf("Successfully added %d items", r.Summary.Completed)
}
