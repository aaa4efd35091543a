package reachability

import (
	"sync"
	"time"
)

// scheduler is a triggerable wake signal with a bounded maximum delay,
// grounded on the wake-channel idiom in
// client/doublezerod/internal/probing/scheduler.go's IntervalScheduler:
// callers block on the channel returned by Wake and re-fetch it after each
// fire, rather than polling. Unlike IntervalScheduler, reachability probing
// has no per-route due times to track — every trigger (or timeout) probes
// the full routed-LAN set in one batch, so the scheduler only needs a single
// wake channel plus the max delay used to re-arm the caller's timer.
type scheduler struct {
	mu       sync.Mutex
	wake     chan struct{}
	maxDelay time.Duration
}

func newScheduler(maxDelay time.Duration) *scheduler {
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &scheduler{wake: make(chan struct{}), maxDelay: maxDelay}
}

// Trigger wakes any goroutine blocked on Wake. Safe to call from any
// goroutine, any number of times; redundant triggers before the waiter
// observes the channel collapse into one wake-up.
func (s *scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.wake)
	s.wake = make(chan struct{})
}

// Wake returns the channel that closes on the next Trigger call. Callers
// must re-fetch it after every receive.
func (s *scheduler) Wake() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake
}

func (s *scheduler) MaxDelay() time.Duration {
	return s.maxDelay
}
