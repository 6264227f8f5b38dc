package uploadstate

import (
	"context"
	"testing"
	"time"

	"horse.fit/stipend/internal/globaltime"
)

func TestMemoryStorePutTake(t *testing.T) {
	store := NewMemoryStore(15 * time.Minute)
	handle := Handle{Token: "tok-1", UserID: "u1", Purpose: "transcript", Filename: "transcript.pdf"}

	if err := store.Put(context.Background(), handle); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Take(context.Background(), "tok-1")
	if err != nil || !ok {
		t.Fatalf("Take: ok=%v err=%v", ok, err)
	}
	if got.UserID != "u1" || got.Filename != "transcript.pdf" {
		t.Fatalf("handle = %+v", got)
	}
}

func TestMemoryStoreTakeConsumes(t *testing.T) {
	store := NewMemoryStore(15 * time.Minute)
	_ = store.Put(context.Background(), Handle{Token: "tok-1"})

	if _, ok, _ := store.Take(context.Background(), "tok-1"); !ok {
		t.Fatal("first take should succeed")
	}
	if _, ok, _ := store.Take(context.Background(), "tok-1"); ok {
		t.Fatal("second take should fail")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	store := NewMemoryStore(time.Minute)
	_ = store.Put(context.Background(), Handle{Token: "tok-1"})

	globaltime.SetMockTime(base.Add(2 * time.Minute))
	if _, ok, _ := store.Take(context.Background(), "tok-1"); ok {
		t.Fatal("expired handle should not be returned")
	}
}

func TestMemoryStoreUnknownToken(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	if _, ok, err := store.Take(context.Background(), "missing"); ok || err != nil {
		t.Fatalf("Take missing: ok=%v err=%v", ok, err)
	}
}
