package bulk

import (
	"context"
)

// Result is the outcome of one submitted item.
// A nil Err means the item succeeded with Value.
type Result[Res any] struct {
	Value Res
	Err   error
}

// Sender submits one wave to a bulk endpoint.
//
// The returned results are correlated with batch by position. A non-nil error
// means the whole call failed and results are ignored.
type Sender[Req, Res any] interface {
	SendBatch(ctx context.Context, batch []Req) ([]Result[Res], error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc[Req, Res any] func(ctx context.Context, batch []Req) ([]Result[Res], error)

// SendBatch implements Sender.
func (f SenderFunc[Req, Res]) SendBatch(ctx context.Context, batch []Req) ([]Result[Res], error) {
	return f(ctx, batch)
}
