package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Workers: 1})

	var ran atomic.Int32
	if err := d.Enqueue(context.Background(), "test", func() error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := ran.Load(); got != 1 {
		t.Fatalf("job ran %d times, want 1", got)
	}
	if got := d.ErrorCount(); got != 0 {
		t.Fatalf("error count = %d", got)
	}
}

func TestDispatcherCountsPermanentFailures(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Workers: 1, RetryBackoff: time.Millisecond})

	var attempts atomic.Int32
	// A non-network error must not be retried.
	if err := d.Enqueue(context.Background(), "test", func() error {
		attempts.Add(1)
		return errors.New("chat not found")
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
	if got := d.ErrorCount(); got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Workers: 1})
	d.Close()

	err := d.Enqueue(context.Background(), "test", func() error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close = %v, want ErrQueueClosed", err)
	}
}

func TestDispatcherRejectsWhenFull(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{QueueSize: 1, Workers: 1})
	defer d.Close()

	block := make(chan struct{})
	release := make(chan struct{})
	_ = d.Enqueue(context.Background(), "blocker", func() error {
		close(block)
		<-release
		return nil
	})
	<-block

	// Fill the single queue slot, then overflow it.
	_ = d.Enqueue(context.Background(), "queued", func() error { return nil })
	err := d.Enqueue(context.Background(), "overflow", func() error { return nil })
	close(release)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue on full queue = %v, want ErrQueueFull", err)
	}
}
