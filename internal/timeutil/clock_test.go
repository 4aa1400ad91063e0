package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(100 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestFakeClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	clock.Sleep(5 * time.Second)
	clock.Sleep(15 * time.Second)

	if got := clock.Now(); !got.Equal(start.Add(20 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(20*time.Second))
	}
	if len(clock.Sleeps) != 2 {
		t.Fatalf("recorded %d sleeps, want 2", len(clock.Sleeps))
	}
	if clock.Sleeps[0] != 5*time.Second || clock.Sleeps[1] != 15*time.Second {
		t.Errorf("Sleeps = %v, want [5s 15s]", clock.Sleeps)
	}
}

func TestFakeClock_AfterDeliversImmediately(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC))

	select {
	case <-clock.After(time.Hour):
	default:
		t.Error("After() should deliver without blocking")
	}
}
