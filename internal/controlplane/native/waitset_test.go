package native

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsWhenAttachedConditionChanges(t *testing.T) {
	w := NewWaitset()
	c := NewCondition()
	w.Attach(c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan []any, 1)
	go func() {
		active, err := w.Wait(ctx)
		if err != nil {
			done <- nil
			return
		}
		out := make([]any, len(active))
		for i, a := range active {
			out[i] = a
		}
		done <- out
	}()

	time.Sleep(20 * time.Millisecond)
	c.SetTriggerValue(true)

	select {
	case active := <-done:
		if len(active) != 1 || active[0] != c {
			t.Fatalf("Wait returned %v, want [c]", active)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after condition changed")
	}
}

func TestWaitReturnsErrorOnContextCancel(t *testing.T) {
	w := NewWaitset()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx)
	if err == nil {
		t.Fatal("expected an error when ctx is canceled with nothing to report")
	}
}

func TestDetachStopsNotifications(t *testing.T) {
	w := NewWaitset()
	c := NewCondition()
	w.Attach(c)
	w.Detach(c)

	if c.ws != nil {
		t.Fatal("expected condition to be detached")
	}
}
