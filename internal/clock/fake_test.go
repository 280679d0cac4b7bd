package clock

import (
	"testing"
	"time"
)

func TestFakeFiresTimersInDeadlineOrder(t *testing.T) {
	fake := NewFake()
	fired := make([]string, 0, 3)

	fake.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })
	fake.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	fake.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })

	fake.Advance(5 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("nothing should fire before its deadline, got %v", fired)
	}

	fake.Advance(25 * time.Millisecond)
	if len(fired) != 3 {
		t.Fatalf("expected all 3 timers fired, got %v", fired)
	}
	if fired[0] != "a" || fired[1] != "b" || fired[2] != "c" {
		t.Fatalf("expected deadline order a,b,c, got %v", fired)
	}
	if fake.PendingTimers() != 0 {
		t.Fatalf("expected no pending timers, got %d", fake.PendingTimers())
	}
}

func TestFakeStopPreventsFiring(t *testing.T) {
	fake := NewFake()
	count := 0
	timer := fake.AfterFunc(10*time.Millisecond, func() { count++ })

	if !timer.Stop() {
		t.Fatalf("expected the first stop to succeed")
	}
	if timer.Stop() {
		t.Fatalf("expected the second stop to report already stopped")
	}

	fake.Advance(time.Second)
	if count != 0 {
		t.Fatalf("a stopped timer must not fire, got %d firings", count)
	}
}

func TestFakeCallbackMayArmNewTimer(t *testing.T) {
	fake := NewFake()
	fired := 0
	fake.AfterFunc(10*time.Millisecond, func() {
		fired++
		fake.AfterFunc(10*time.Millisecond, func() { fired++ })
	})

	fake.Advance(20 * time.Millisecond)
	if fired != 2 {
		t.Fatalf("expected the rearmed timer to fire within the same advance, got %d", fired)
	}
	if got := fake.Now(); !got.Equal(NewFake().Now().Add(20 * time.Millisecond)) {
		t.Fatalf("expected the clock to land on the advance target, got %v", got)
	}
}
