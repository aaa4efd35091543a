// Package native implements controlplane's interfaces entirely in-process
// over Go channels and sync.Cond, grounded on
// uno/middleware/native/{native_condition,native_waitset}.py: a condition
// holds a trigger value plus a changed flag, and notifies whichever waitset
// it's attached to under the waitset's own lock.
package native

import "sync"

// condition is the concrete Condition every native Reader embeds, and what
// user conditions outside the package can construct directly.
type condition struct {
	mu      sync.Mutex
	value   bool
	changed bool
	ws      *waitset
}

// NewCondition returns a standalone user condition, for application code
// (e.g. "routed networks changed") to attach to a Loop's waitset.
func NewCondition() *condition {
	return &condition{}
}

func (c *condition) TriggerValue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *condition) SetTriggerValue(v bool) {
	c.mu.Lock()
	if v != c.value {
		c.changed = true
	}
	c.value = v
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.notify()
	}
}

// changedSinceLastCheck reports and clears the changed flag, matching
// NativeCondition._changed's consume-on-read semantics.
func (c *condition) changedSinceLastCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.changed
	c.changed = false
	return changed
}

func (c *condition) attach(w *waitset) {
	c.mu.Lock()
	c.ws = w
	c.mu.Unlock()
}

func (c *condition) detach() {
	c.mu.Lock()
	c.ws = nil
	c.mu.Unlock()
}
