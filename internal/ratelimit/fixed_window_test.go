package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestLimiterRejectsThirtyFirstAndResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := New(30, time.Minute, WithClock(clock.Now))

	for i := 1; i <= 30; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d refused, want allowed", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("request 31 allowed, want refused")
	}

	clock.now = clock.now.Add(time.Minute)
	if l.Allow("10.0.0.1") {
		t.Fatal("request at exact reset allowed, want refused until window passes")
	}

	clock.now = clock.now.Add(time.Millisecond)
	if !l.Allow("10.0.0.1") {
		t.Fatal("request after window refused, want allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("first request per key refused")
	}
	if l.Allow("a") {
		t.Fatal("second request for a allowed, want refused")
	}
}

func TestLimiterSweepsExpiredEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(1, time.Second, WithClock(clock.Now))
	for i := 0; i < sweepThreshold; i++ {
		l.Allow(fmt.Sprintf("ip-%d", i))
	}
	clock.now = clock.now.Add(2 * time.Second)
	l.Allow("fresh")
	if got := len(l.entries); got != 1 {
		t.Fatalf("entries=%d after sweep, want 1", got)
	}
}

func TestNewFallsBackToDefaults(t *testing.T) {
	l := New(0, 0)
	if l.Limit() != DefaultLimit || l.Window() != DefaultWindow {
		t.Fatalf("limit=%d window=%v, want %d %v", l.Limit(), l.Window(), DefaultLimit, DefaultWindow)
	}
}
