package reachability

import (
	"testing"
	"time"
)

func TestSchedulerTriggerClosesWake(t *testing.T) {
	s := newScheduler(time.Minute)
	wake := s.Wake()

	s.Trigger()

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected Wake() channel to close after Trigger")
	}
}

func TestSchedulerWakeChannelReplacedAfterTrigger(t *testing.T) {
	s := newScheduler(time.Minute)
	first := s.Wake()
	s.Trigger()
	second := s.Wake()

	if first == second {
		t.Fatal("expected a fresh wake channel after Trigger")
	}

	select {
	case <-second:
		t.Fatal("new wake channel should not be closed yet")
	default:
	}
}

func TestSchedulerDefaultsMaxDelay(t *testing.T) {
	s := newScheduler(0)
	if s.MaxDelay() <= 0 {
		t.Fatal("expected a positive default max delay")
	}
}
