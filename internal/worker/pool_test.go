package worker

import (
	"context"
	"testing"
	"time"
)

func TestPool_UnboundedNeverBlocks(t *testing.T) {
	p := New(0)
	if p.Limit() != Unbounded {
		t.Fatalf("expected limit<=0 to mean Unbounded, got %d", p.Limit())
	}
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := p.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	// Unbounded still respects an already-cancelled context.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Acquire(cancelled); err == nil {
		t.Fatal("expected Acquire on an unbounded pool to still observe a cancelled context")
	}
}

func TestPool_LimitedBlocksUntilRelease(t *testing.T) {
	p := New(1)
	if p.Limit() != 1 {
		t.Fatalf("expected limit 1, got %d", p.Limit())
	}
	ctx := context.Background()
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if p.TryAcquire() {
		t.Fatal("expected TryAcquire to fail while the only slot is held")
	}

	acquired := make(chan struct{})
	go func() {
		if err := p.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before the held slot was released")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never unblocked after Release")
	}
}

func TestPool_AcquireRespectsContextCancellation(t *testing.T) {
	p := New(1)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to fail once the context is cancelled while the slot is held")
	}
}

func TestPool_RunAcquiresAndReleases(t *testing.T) {
	p := New(1)
	ran := false
	if err := p.Run(context.Background(), func(ctx context.Context) error {
		ran = true
		if p.TryAcquire() {
			t.Fatal("expected the single slot to be held while fn runs")
		}
		return nil
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	if !p.TryAcquire() {
		t.Fatal("expected the slot to be released after Run returns")
	}
}
