package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolBusy is returned when no exchange slot frees up within the
// configured wait. Callers surface it as a retry-later condition.
var ErrPoolBusy = errors.New("worker pool busy")

const defaultAcquireWait = 2 * time.Second

// Pool bounds the number of concurrently running exchanges. Each in-flight
// stream holds one slot from acquire until its terminal outcome.
type Pool struct {
	slots chan struct{}
	wait  time.Duration
}

// NewPool creates a pool with the given capacity. wait caps how long Acquire
// blocks for a free slot before giving up; zero applies a default.
func NewPool(capacity int, wait time.Duration) *Pool {
	if capacity <= 0 {
		capacity = 16
	}
	if wait <= 0 {
		wait = defaultAcquireWait
	}
	return &Pool{
		slots: make(chan struct{}, capacity),
		wait:  wait,
	}
}

// Acquire claims a slot, waiting up to the pool's configured bound. The
// returned release function is idempotent.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}, nil
}

// InFlight reports the number of currently held slots.
func (p *Pool) InFlight() int {
	return len(p.slots)
}
