package feed

import (
	"context"
	"errors"
)

// Update is one delivery from a live query: either the full current result
// set, or a terminal error.
type Update[T any] struct {
	Items []T
	Err   error
}

// Stream is a live query subscription.  The producer pushes full snapshots of
// the query result; the consumer ranges over Updates until it is closed.
//
// A Stream is cancelled by calling Cancel or by cancelling the context it was
// created with.  Cancellation is not reported as an error.
type Stream[T any] struct {
	updates chan Update[T]
	cancel  context.CancelFunc
	done    chan struct{}
}

// EmitFunc delivers a snapshot to the consumer.  It blocks until the consumer
// takes it, and returns the context's error if the stream is cancelled first.
type EmitFunc[T any] func(items []T) error

// NewStream starts run in its own goroutine and returns the Stream it feeds.
//
// run should emit the current result set right away, then again every time it
// changes, and return when ctx is done.
func NewStream[T any](ctx context.Context, run func(ctx context.Context, emit EmitFunc[T]) error) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		updates: make(chan Update[T]),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)

		emit := func(items []T) error {
			select {
			case s.updates <- Update[T]{Items: items}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := run(ctx, emit)
		if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}

		select {
		case s.updates <- Update[T]{Err: err}:
		case <-ctx.Done():
		}
	}()

	return s
}

// Updates returns the channel of snapshots.  It is closed once the producer
// exits.
func (s *Stream[T]) Updates() <-chan Update[T] {
	return s.updates
}

// Cancel stops the producer and waits for it to exit.  It is safe to call
// more than once.
func (s *Stream[T]) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the producer has exited.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}
