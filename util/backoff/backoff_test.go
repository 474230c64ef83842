package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowthAndCap(t *testing.T) {
	b := New(time.Millisecond, 4*time.Millisecond, 2.0)
	ctx := context.Background()

	want := []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond, // capped
	}
	for i, w := range want {
		if got := b.CurrentDelay(); got != w {
			t.Errorf("delay before wait %d = %v, want %v", i+1, got, w)
		}
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait() failed: %v", err)
		}
	}

	b.Reset()
	if got := b.CurrentDelay(); got != time.Millisecond {
		t.Errorf("delay after Reset() = %v, want %v", got, time.Millisecond)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	b := New(time.Minute, time.Minute, 2.0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- b.Wait(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait() returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait() did not return after context cancellation")
	}
}
