package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bulk-request-client/pkg/batch"
	"github.com/Sternrassler/bulk-request-client/pkg/bulk"
	"github.com/Sternrassler/bulk-request-client/pkg/client"
)

// Record is a persisted session report.
type Record struct {
	SessionID string `json:"session_id"`
	Resource  string `json:"resource"`

	// ParentSessionID is set when the session re-submitted another's failures
	ParentSessionID string `json:"parent_session_id,omitempty"`

	Items   []RecordItem  `json:"items"`
	Summary batch.Summary `json:"summary"`
	Rounds  int           `json:"rounds"`
	Message string        `json:"message"`

	// CreatedAt is when the session finished
	CreatedAt time.Time `json:"created_at"`

	// Expires is when the record is dropped from Redis
	Expires time.Time `json:"expires"`
}

// RecordItem is one item of a stored report, payloads kept as raw JSON.
type RecordItem struct {
	Key      string          `json:"key"`
	Status   batch.Status    `json:"status"`
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *ItemErrorView  `json:"error,omitempty"`
}

// ItemErrorView is the serialisable form of an item failure.
type ItemErrorView struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}

// NewRecord converts a finished report into a record that expires after ttl.
func NewRecord[K comparable, Req, Res any](resource string, report *bulk.Report[K, Req, Res], ttl time.Duration) (*Record, error) {
	if report == nil {
		return nil, fmt.Errorf("%w: report cannot be nil", ErrInvalidRecord)
	}

	now := time.Now()
	record := &Record{
		SessionID: report.SessionID,
		Resource:  resource,
		Items:     make([]RecordItem, 0, len(report.Items)),
		Summary:   report.Summary,
		Rounds:    report.Rounds,
		Message:   report.Message(),
		CreatedAt: now,
		Expires:   now.Add(ttl),
	}

	for _, item := range report.Items {
		req, err := json.Marshal(item.Request)
		if err != nil {
			return nil, fmt.Errorf("encode request of %v: %w", item.Key, err)
		}

		ri := RecordItem{
			Key:     fmt.Sprint(item.Key),
			Status:  item.Status,
			Request: req,
		}

		switch item.Status {
		case batch.StatusCompleted:
			res, err := json.Marshal(item.Response)
			if err != nil {
				return nil, fmt.Errorf("encode response of %v: %w", item.Key, err)
			}
			ri.Response = res
		case batch.StatusFailed:
			ri.Error = newItemErrorView(item.Error)
		}

		record.Items = append(record.Items, ri)
	}

	return record, nil
}

// Item error codes for failures that carry no code of their own.
const (
	CodeNoResult    = "no_result"
	CodeTimeout     = "timeout"
	CodeCancelled   = "cancelled"
	CodeRateLimited = "rate_limited"
)

// newItemErrorView flattens err, keeping the details of client errors.
func newItemErrorView(err error) *ItemErrorView {
	if err == nil {
		return &ItemErrorView{Code: "unknown", Message: "failed without error"}
	}

	view := &ItemErrorView{
		Code:      "error",
		Message:   err.Error(),
		Retryable: client.IsRetryable(err),
	}

	var itemErr *client.ItemError
	var apiErr *client.APIError
	switch {
	case errors.As(err, &itemErr):
		view.Code = itemErr.Code
		view.Message = itemErr.Message
		view.Fields = itemErr.Fields
	case errors.As(err, &apiErr):
		view.Code = string(apiErr.ErrorClass)
	case errors.Is(err, bulk.ErrNoResult):
		view.Code = CodeNoResult
	case errors.Is(err, context.DeadlineExceeded):
		view.Code = CodeTimeout
	case errors.Is(err, client.ErrContextCancelled), errors.Is(err, context.Canceled):
		view.Code = CodeCancelled
	case errors.Is(err, client.ErrRateLimited):
		view.Code = CodeRateLimited
	}

	return view
}

// Key returns the record's storage key.
func (r *Record) Key() SessionKey {
	return SessionKey{Resource: r.Resource, SessionID: r.SessionID}
}

// IsExpired returns true if the record has expired.
func (r *Record) IsExpired() bool {
	return time.Now().After(r.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (r *Record) TTL() time.Duration {
	ttl := time.Until(r.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// FailedItems returns the failed items in stored order.
func (r *Record) FailedItems() []RecordItem {
	var failed []RecordItem
	for _, item := range r.Items {
		if item.Status == batch.StatusFailed {
			failed = append(failed, item)
		}
	}
	return failed
}

// FailedRequests decodes the requests of the failed items of r.
func FailedRequests[Req any](r *Record) ([]Req, error) {
	failed := r.FailedItems()
	reqs := make([]Req, 0, len(failed))
	for _, item := range failed {
		var req Req
		if err := json.Unmarshal(item.Request, &req); err != nil {
			return nil, fmt.Errorf("%w: decode request of %s: %v", ErrInvalidRecord, item.Key, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
