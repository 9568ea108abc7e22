package harness

import (
	"context"
	"errors"
	"fmt"
)

// ErrStreamExhausted is returned when a change stream ends before the
// expected number of objects has been observed.
var ErrStreamExhausted = errors.New("change stream ended early")

// DefaultStreamBuffer is the channel capacity used by Bridge.
const DefaultStreamBuffer = 256

// EmitFunc hands one notification to the consumer. It returns false once
// the consumer has gone away; the producer must then return.
type EmitFunc func(Notification) bool

// Bridge runs produce in its own goroutine and exposes what it emits as a
// bounded channel. Cancelling ctx stops the producer: emit starts returning
// false and the channel is closed once produce returns. A non-nil error from
// produce is delivered as a final notification unless ctx is already done.
func Bridge(
	ctx context.Context,
	buffer int,
	produce func(ctx context.Context, emit EmitFunc) error,
) <-chan Notification {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}

	out := make(chan Notification, buffer)

	emit := func(n Notification) bool {
		select {
		case <-ctx.Done():
			return false
		case out <- n:
			return true
		}
	}

	go func() {
		defer close(out)

		if err := produce(ctx, emit); err != nil && ctx.Err() == nil {
			emit(Notification{Err: err})
		}
	}()

	return out
}

// CheckFunc validates an observed object's labels against its own name.
type CheckFunc func(name string, labels map[string]string) error

// Drain consumes stream until every name in want has been observed,
// validating every object with check. Repeated notifications for an already
// counted name are validated but not counted again. Objects whose name is not
// in want, such as leftovers of an earlier run, are validated and then
// ignored. It returns the number of names of want observed, without waiting
// for the stream to end; the caller cancels the producer.
func Drain(
	ctx context.Context,
	stream <-chan Notification,
	want []string,
	check CheckFunc,
) (int, error) {
	pending := make(map[string]struct{}, len(want))
	for _, name := range want {
		pending[name] = struct{}{}
	}

	expected := len(pending)
	if expected == 0 {
		return 0, nil
	}

	for {
		select {
		case <-ctx.Done():
			return expected - len(pending), fmt.Errorf("drain stream: %w", ctx.Err())

		case n, ok := <-stream:
			if !ok {
				return expected - len(pending), fmt.Errorf("%w: observed %d of %d",
					ErrStreamExhausted, expected-len(pending), expected)
			}

			if n.Err != nil {
				return expected - len(pending), fmt.Errorf("stream notification: %w", n.Err)
			}

			if err := check(n.Object.Name, n.Object.Labels); err != nil {
				return expected - len(pending), err
			}

			delete(pending, n.Object.Name)
			if len(pending) == 0 {
				return expected, nil
			}
		}
	}
}
