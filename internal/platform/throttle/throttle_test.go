package throttle

import (
	"context"
	"testing"
	"time"
)

func TestAllow_NilClientAlwaysAllows(t *testing.T) {
	l := New(nil, 1, time.Minute)
	for i := 0; i < 5; i++ {
		ok, err := l.Allow(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatal("nil client must never throttle")
		}
	}
}

func TestRemaining_NilClient(t *testing.T) {
	l := New(nil, 10, time.Minute)
	remaining, err := l.Remaining(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 10 {
		t.Errorf("remaining = %d, want 10", remaining)
	}
}
