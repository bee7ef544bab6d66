package core

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many asks run against the model provider at once.
// Callers beyond the bound wait until a slot frees or their context ends.
type Limiter struct {
	max      int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewLimiter creates a limiter admitting max concurrent holders.
// If max <= 0, unlimited holders are allowed.
func NewLimiter(max int) *Limiter {
	l := &Limiter{max: int64(max)}
	if max > 0 {
		l.sem = semaphore.NewWeighted(int64(max))
	}
	return l
}

// Acquire blocks until a slot is available and returns its release func.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	l.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		l.inFlight.Add(-1)
		if l.sem != nil {
			l.sem.Release(1)
		}
	}, nil
}

// InFlight returns the number of currently held slots.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Remaining returns how many slots are free, or -1 when unlimited.
func (l *Limiter) Remaining() int {
	if l.max <= 0 {
		return -1
	}
	return int(l.max) - l.InFlight()
}
