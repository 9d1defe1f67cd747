package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/bulk-request-client/pkg/bulk"
)

// BulkRequest is the request body of a bulk endpoint.
type BulkRequest[Req any] struct {
	Items []Req `json:"items"`
}

// BulkResponse is the response body of a bulk endpoint. Results are
// positionally correlated with BulkRequest.Items.
type BulkResponse[Res any] struct {
	Results []ItemResult[Res] `json:"results"`
}

// ItemResult is the outcome of one item in a BulkResponse.
type ItemResult[Res any] struct {
	OK    bool       `json:"ok"`
	Data  Res        `json:"data,omitempty"`
	Error *ItemError `json:"error,omitempty"`
}

// maxErrorBody caps how much of an error response is quoted in APIError.
const maxErrorBody = 512

// Endpoint is a typed bulk endpoint. It implements bulk.Sender.
type Endpoint[Req, Res any] struct {
	client *Client
	path   string
}

// NewEndpoint creates an endpoint for path, relative to the client base URL.
func NewEndpoint[Req, Res any](c *Client, path string) *Endpoint[Req, Res] {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Endpoint[Req, Res]{client: c, path: path}
}

// Path returns the endpoint path.
func (e *Endpoint[Req, Res]) Path() string {
	return e.path
}

// SendBatch submits one wave. Per-item failures are returned as *ItemError
// results; whole-call failures as the error.
func (e *Endpoint[Req, Res]) SendBatch(ctx context.Context, batch []Req) ([]bulk.Result[Res], error) {
	resp, err := e.client.Post(ctx, e.path, BulkRequest[Req]{Items: batch})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    strings.TrimSpace(resp.Status + " " + string(body)),
		}
	}

	var payload BulkResponse[Res]
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "decode bulk response",
			Err:        err,
		}
	}

	if len(payload.Results) != len(batch) {
		e.client.logger.Warn().
			Str("path", e.path).
			Int("submitted", len(batch)).
			Int("results", len(payload.Results)).
			Msg("Bulk response result count mismatch")
	}

	results := make([]bulk.Result[Res], len(payload.Results))
	for i, r := range payload.Results {
		if r.OK {
			results[i].Value = r.Data
			continue
		}

		itemErr := r.Error
		if itemErr == nil {
			itemErr = &ItemError{Code: "unknown", Message: fmt.Sprintf("item %d failed without error details", i)}
		}
		results[i].Err = itemErr
	}

	return results, nil
}

// compile-time check
var _ bulk.Sender[json.RawMessage, json.RawMessage] = (*Endpoint[json.RawMessage, json.RawMessage])(nil)

