package debounce

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKV_SetNXAndExpiry(t *testing.T) {
	kv := NewMemoryKV()
	clock := newClock()
	kv.SetClock(clock.Now)
	ctx := context.Background()

	won, err := kv.SetNX(ctx, "k", "a", 5*time.Second)
	if err != nil || !won {
		t.Fatalf("first SetNX = (%v, %v), want win", won, err)
	}

	won, _ = kv.SetNX(ctx, "k", "b", 5*time.Second)
	if won {
		t.Error("second SetNX won while key live")
	}

	clock.Advance(6 * time.Second)
	won, _ = kv.SetNX(ctx, "k", "c", 5*time.Second)
	if !won {
		t.Error("SetNX should win after expiry")
	}
	v, ok, _ := kv.Get(ctx, "k")
	if !ok || v != "c" {
		t.Errorf("Get = (%q, %v), want (\"c\", true)", v, ok)
	}
}

func TestMemoryKV_SetRefreshesTTL(t *testing.T) {
	kv := NewMemoryKV()
	clock := newClock()
	kv.SetClock(clock.Now)
	ctx := context.Background()

	kv.Set(ctx, "k", "1", 5*time.Second)
	clock.Advance(4 * time.Second)
	kv.Set(ctx, "k", "1", 5*time.Second) // refresh
	clock.Advance(4 * time.Second)

	if _, ok, _ := kv.Get(ctx, "k"); !ok {
		t.Error("key expired despite refresh")
	}

	clock.Advance(2 * time.Second)
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("key should have expired")
	}
}

func TestMemoryKV_Incr(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := kv.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != want {
			t.Errorf("Incr = %d, want %d", n, want)
		}
	}
}

func TestMemoryKV_Del(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	kv.Set(ctx, "a", "1", 0)
	kv.Set(ctx, "b", "2", 0)
	if err := kv.Del(ctx, "a", "b"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "a"); ok {
		t.Error("key a survived Del")
	}
}
