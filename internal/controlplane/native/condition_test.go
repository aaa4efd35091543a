package native

import "testing"

func TestConditionTracksChangedOnce(t *testing.T) {
	c := NewCondition()
	if c.changedSinceLastCheck() {
		t.Fatal("fresh condition should report no change")
	}

	c.SetTriggerValue(true)
	if !c.changedSinceLastCheck() {
		t.Fatal("expected change after SetTriggerValue(true)")
	}
	if c.changedSinceLastCheck() {
		t.Fatal("changed flag should be consumed by the first check")
	}
}

func TestConditionSetSameValueIsNotAChange(t *testing.T) {
	c := NewCondition()
	c.SetTriggerValue(false)
	if c.changedSinceLastCheck() {
		t.Fatal("setting the same value should not mark a change")
	}
}

func TestConditionNotifiesAttachedWaitset(t *testing.T) {
	w := NewWaitset()
	c := NewCondition()
	w.Attach(c)

	done := make(chan struct{})
	go func() {
		c.SetTriggerValue(true)
		close(done)
	}()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	if c.ws != w {
		t.Fatal("expected condition to be attached to the waitset")
	}
}
