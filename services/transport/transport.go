// Package transport delivers batches to the ingest endpoint. One Deliverer
// per link type; the outbound format is a pluggable Encoder.
package transport

import (
	"context"

	"sensorlink-go/types"
)

// Deliverer sends one batch. A nil error means the endpoint accepted it;
// the returned Directive may carry a new polling interval. Receivers must
// tolerate repeats: a batch is resent if its prune fails.
type Deliverer interface {
	Send(ctx context.Context, b types.Batch) (types.Directive, error)
}

// Func adapts a function to Deliverer.
type Func func(ctx context.Context, b types.Batch) (types.Directive, error)

func (f Func) Send(ctx context.Context, b types.Batch) (types.Directive, error) { return f(ctx, b) }
