package transport

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestReconnectBudgetStopsAtCeiling(t *testing.T) {
	b := newReconnectBudget(3)

	for i := 0; i < 3; i++ {
		if !b.tryAcquire() {
			t.Fatalf("tryAcquire() #%d = false, want true", i+1)
		}
	}
	if b.tryAcquire() {
		t.Fatal("tryAcquire() past ceiling = true, want false")
	}
	if got := b.usedCount(); got != 3 {
		t.Fatalf("usedCount() = %d, want 3", got)
	}
}

func TestReconnectBudgetNoLostUpdatesUnderConcurrency(t *testing.T) {
	b := newReconnectBudget(5)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.tryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 5 {
		t.Fatalf("granted = %d, want exactly 5", got)
	}
	if got := b.usedCount(); got != 5 {
		t.Fatalf("usedCount() = %d, want 5", got)
	}
}

func TestReconnectBudgetZeroCeiling(t *testing.T) {
	b := newReconnectBudget(0)
	if b.tryAcquire() {
		t.Fatal("tryAcquire() with zero ceiling = true, want false")
	}
}
