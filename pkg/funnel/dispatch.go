package funnel

import "sync/atomic"

// dispatchGate bounds the number of in-flight lead deliveries. Notification
// is fire-and-forget from the caller's perspective, so when every slot is
// taken the lead is counted as dropped instead of spawning another goroutine.
type dispatchGate struct {
	slots   chan struct{}
	dropped atomic.Int64
}

func newDispatchGate(capacity int) *dispatchGate {
	if capacity <= 0 {
		capacity = 32
	}
	return &dispatchGate{slots: make(chan struct{}, capacity)}
}

// tryAcquire claims a slot without blocking. False means the gate is full
// and the caller should not dispatch.
func (g *dispatchGate) tryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		g.dropped.Add(1)
		return false
	}
}

func (g *dispatchGate) release() {
	select {
	case <-g.slots:
	default:
	}
}

func (g *dispatchGate) inFlight() int { return len(g.slots) }

func (g *dispatchGate) droppedCount() int64 { return g.dropped.Load() }
