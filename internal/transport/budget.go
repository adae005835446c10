package transport

import "sync/atomic"

// reconnectBudget bounds how many times this process may ask the supervisor
// to restart the backend. Monotonic; resets only with the process.
type reconnectBudget struct {
	ceiling int32
	used    atomic.Int32
}

func newReconnectBudget(ceiling int) *reconnectBudget {
	if ceiling < 0 {
		ceiling = 0
	}
	return &reconnectBudget{ceiling: int32(ceiling)}
}

// tryAcquire consumes one unit of the budget. A single compare-and-swap
// guarantees no lost updates under concurrent calls.
func (b *reconnectBudget) tryAcquire() bool {
	for {
		cur := b.used.Load()
		if cur >= b.ceiling {
			return false
		}
		if b.used.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (b *reconnectBudget) usedCount() int {
	return int(b.used.Load())
}
