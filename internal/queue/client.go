package queue

import "context"

// Client sends verification jobs to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to Client.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
