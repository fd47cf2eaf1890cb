package orchestrator

import "context"

// SlotPool is a fixed-capacity pool of execution slots. It carries no
// job state, it is pure capacity. Release saturates at capacity, so a
// double release never over-grants slots.
type SlotPool struct {
	slots chan struct{}
}

// NewSlotPool creates a pool with the given capacity (minimum 1).
func NewSlotPool(capacity int) *SlotPool {
	if capacity < 1 {
		capacity = 1
	}
	slots := make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		slots <- struct{}{}
	}
	return &SlotPool{slots: slots}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (p *SlotPool) Acquire(ctx context.Context) error {
	select {
	case <-p.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking. Returns false if none free.
func (p *SlotPool) TryAcquire() bool {
	select {
	case <-p.slots:
		return true
	default:
		return false
	}
}

// Release returns a slot to the pool. Releasing more slots than were
// acquired is a no-op.
func (p *SlotPool) Release() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
}

// Capacity returns the pool size.
func (p *SlotPool) Capacity() int {
	return cap(p.slots)
}

// InUse returns the number of slots currently held.
func (p *SlotPool) InUse() int {
	return cap(p.slots) - len(p.slots)
}
