package native

import (
	"context"
	"sync"

	"github.com/mentalsmash/uno/internal/controlplane"
)

// waitset mirrors NativeWaitset: an RLock-guarded list of attached
// conditions plus a condition variable conditions broadcast on when their
// trigger value changes. Wait scans for conditions with a pending change
// and blocks on the condvar when none are found, rather than polling.
//
// Only conditions created by this package (the *condition type, including
// the one every native Reader embeds) can be meaningfully attached: the
// changed-flag bookkeeping Wait relies on lives on that concrete type.
type waitset struct {
	mu    sync.Mutex
	cond  *sync.Cond
	order []controlplane.Condition
}

// nativeCondition is the bookkeeping *condition carries; a native *reader
// has the same methods through its embedded *condition.
type nativeCondition interface {
	attach(w *waitset)
	detach()
	changedSinceLastCheck() bool
}

// NewWaitset returns a Waitset with no conditions attached.
func NewWaitset() *waitset {
	w := &waitset{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *waitset) Attach(c controlplane.Condition) {
	w.mu.Lock()
	for _, existing := range w.order {
		if existing == c {
			w.mu.Unlock()
			return
		}
	}
	w.order = append(w.order, c)
	w.mu.Unlock()

	if nc, ok := c.(nativeCondition); ok {
		nc.attach(w)
	}
}

func (w *waitset) Detach(c controlplane.Condition) {
	w.mu.Lock()
	for i, existing := range w.order {
		if existing == c {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	if nc, ok := c.(nativeCondition); ok {
		nc.detach()
	}
}

// notify wakes every goroutine blocked in Wait so it can re-scan for
// changed conditions.
func (w *waitset) notify() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Wait blocks until a condition attached to w reports a change or ctx is
// canceled, returning the conditions that changed.
func (w *waitset) Wait(ctx context.Context) ([]controlplane.Condition, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var active []controlplane.Condition
		for _, c := range w.order {
			if nc, ok := c.(nativeCondition); ok && nc.changedSinceLastCheck() {
				active = append(active, c)
			}
		}
		if len(active) > 0 {
			return active, nil
		}
		w.cond.Wait()
	}
}
