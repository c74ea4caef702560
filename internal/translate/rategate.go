package translate

import (
	"context"
	"time"
)

// RateGate admits at most limit operations per trailing window. It is shared
// by every chunk of every job so the provider sees one global request rate.
type RateGate struct {
	limit  int
	window time.Duration
	now    func() time.Time

	// lock is a one-slot semaphore so waiters can give up on ctx. The holder
	// keeps it while sleeping for a slot, which queues the others behind it.
	lock   chan struct{}
	stamps []time.Time
}

// NewRateGate creates a gate allowing limit acquisitions per window.
func NewRateGate(limit int, window time.Duration) *RateGate {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateGate{
		limit:  limit,
		window: window,
		now:    time.Now,
		lock:   make(chan struct{}, 1),
		stamps: make([]time.Time, 0, limit),
	}
}

// Acquire blocks until a slot is free in the trailing window, then records
// the acquisition. It returns how long the caller waited.
func (g *RateGate) Acquire(ctx context.Context) (time.Duration, error) {
	start := g.now()

	select {
	case g.lock <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-g.lock }()

	for {
		now := g.now()
		g.prune(now)

		if len(g.stamps) < g.limit {
			g.stamps = append(g.stamps, now)
			return now.Sub(start), nil
		}

		wait := g.stamps[0].Add(g.window).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return g.now().Sub(start), ctx.Err()
		}
	}
}

// InWindow returns the number of acquisitions in the current window.
func (g *RateGate) InWindow() int {
	g.lock <- struct{}{}
	defer func() { <-g.lock }()

	g.prune(g.now())
	return len(g.stamps)
}

// Limit returns the configured per-window cap.
func (g *RateGate) Limit() int {
	return g.limit
}

func (g *RateGate) prune(now time.Time) {
	cut := 0
	for cut < len(g.stamps) && now.Sub(g.stamps[cut]) >= g.window {
		cut++
	}
	if cut > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[cut:]...)
	}
}
