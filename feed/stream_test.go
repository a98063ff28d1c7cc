package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStreamDeliversSnapshots(t *testing.T) {
	st := NewStream(context.Background(), func(ctx context.Context, emit EmitFunc[int]) error {
		for _, snap := range [][]int{{1}, {1, 2}} {
			if err := emit(snap); err != nil {
				return err
			}
		}
		return nil
	})

	var got [][]int
	for u := range st.Updates() {
		if u.Err != nil {
			t.Fatalf("Unexpected error: %v", u.Err)
		}
		got = append(got, u.Items)
	}
	if diff := cmp.Diff(got, [][]int{{1}, {1, 2}}); diff != "" {
		t.Errorf("Bad snapshots; diff (-got +want)\n%s", diff)
	}
}

func TestStreamReportsProducerError(t *testing.T) {
	boom := errors.New("boom")
	st := NewStream(context.Background(), func(ctx context.Context, emit EmitFunc[int]) error {
		return boom
	})

	u, ok := <-st.Updates()
	if !ok {
		t.Fatalf("Updates closed without reporting the error")
	}
	if !errors.Is(u.Err, boom) {
		t.Errorf("Bad error; got %v, want %v", u.Err, boom)
	}
	if _, ok := <-st.Updates(); ok {
		t.Errorf("Updates still open after terminal error")
	}
}

func TestStreamCancelIsSilent(t *testing.T) {
	started := make(chan struct{})
	st := NewStream(context.Background(), func(ctx context.Context, emit EmitFunc[int]) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	st.Cancel()
	st.Cancel()

	select {
	case <-st.Done():
	default:
		t.Fatalf("Done not closed after Cancel returned")
	}
	if u, ok := <-st.Updates(); ok {
		t.Errorf("Got update %+v after Cancel, want closed channel", u)
	}
}

func TestStreamCancelUnblocksEmit(t *testing.T) {
	emitErr := make(chan error, 1)
	st := NewStream(context.Background(), func(ctx context.Context, emit EmitFunc[int]) error {
		// Nobody reads this snapshot.
		err := emit([]int{1})
		emitErr <- err
		return err
	})

	st.Cancel()

	select {
	case err := <-emitErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Bad emit error; got %v, want %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("emit still blocked after Cancel")
	}
}

func TestStreamParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := NewStream(ctx, func(ctx context.Context, emit EmitFunc[int]) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()

	select {
	case <-st.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Stream did not stop when its parent context was cancelled")
	}
}
