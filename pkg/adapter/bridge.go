package adapter

import (
	"context"
	"errors"
)

// ErrBridgeClosed is returned when a call is attempted against a bridge whose
// worker has stopped.
var ErrBridgeClosed = errors.New("adapter bridge closed")

// Bridge marshals calls into an adapter's private execution context and
// results back out. Platform client libraries often demand their own worker
// with a blocking event loop; the bridge is the mailbox in front of it. The
// caller always observes either the result or the error: a dead worker
// surfaces as ErrBridgeClosed, an elapsed context as ctx.Err(), never a hang.
type Bridge struct {
	calls chan bridgeCall
	done  chan struct{}
}

type bridgeCall struct {
	ctx  context.Context
	fn   func(context.Context) (string, error)
	resp chan bridgeResult
}

type bridgeResult struct {
	id  string
	err error
}

func NewBridge(buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bridge{
		calls: make(chan bridgeCall, buffer),
		done:  make(chan struct{}),
	}
}

// Run drains the mailbox until ctx is cancelled. It is meant to be the body
// of the adapter's dedicated worker goroutine.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-b.calls:
			if call.ctx.Err() != nil {
				// Caller gave up while the call sat in the mailbox.
				continue
			}
			id, err := call.fn(call.ctx)
			select {
			case call.resp <- bridgeResult{id: id, err: err}:
			case <-call.ctx.Done():
			}
		}
	}
}

// Do submits fn to the worker and waits for its result, the context deadline,
// or the worker's death, whichever comes first.
func (b *Bridge) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	call := bridgeCall{ctx: ctx, fn: fn, resp: make(chan bridgeResult, 1)}

	select {
	case <-b.done:
		return "", ErrBridgeClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case b.calls <- call:
	}

	select {
	case <-b.done:
		return "", ErrBridgeClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-call.resp:
		return res.id, res.err
	}
}
