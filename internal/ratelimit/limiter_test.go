// Copyright 2025 James Ross
package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	now := time.Now()
	l := New(func() time.Time { return now })
	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, time.Minute) {
			t.Fatalf("expected allow on attempt %d", i)
		}
	}
	if l.Allow("k", 3, time.Minute) {
		t.Fatal("expected deny after limit exceeded")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	now := time.Now()
	l := New(func() time.Time { return now })
	l.Allow("k", 1, time.Second)
	if l.Allow("k", 1, time.Second) {
		t.Fatal("expected deny within window")
	}
	now = now.Add(2 * time.Second)
	if !l.Allow("k", 1, time.Second) {
		t.Fatal("expected allow after window reset")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	now := time.Now()
	l := New(func() time.Time { return now })
	if !l.Allow("a", 1, time.Minute) {
		t.Fatal("expected allow for key a")
	}
	if !l.Allow("b", 1, time.Minute) {
		t.Fatal("expected allow for key b, independent of key a")
	}
}

func TestSweepEvictsStaleWindows(t *testing.T) {
	now := time.Now()
	l := New(func() time.Time { return now })
	l.Allow("stale", 1, time.Minute)
	l.Allow("fresh", 1, time.Minute)

	now = now.Add(3 * time.Minute)
	l.Allow("fresh", 1, time.Minute)

	evicted := l.Sweep(time.Minute)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 window remaining, got %d", l.Len())
	}
}

func TestAllowConcurrentSameKey(t *testing.T) {
	now := time.Now()
	l := New(func() time.Time { return now })
	done := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() { done <- l.Allow("concurrent", 10, time.Minute) }()
	}
	allowed := 0
	for i := 0; i < 50; i++ {
		if <-done {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("expected exactly 10 allowed under limit 10, got %d", allowed)
	}
}
