package sdd

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryManagerNewGetDelete(t *testing.T) {
	ctx := context.Background()
	mgr := NewInMemoryManager(0)

	slot, secret, err := mgr.NewSecret(ctx)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}

	got, err := mgr.GetSecret(ctx, slot)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != secret {
		t.Fatalf("GetSecret returned a different secret than NewSecret produced")
	}

	if err := mgr.DeleteSecret(ctx, slot); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	if _, err := mgr.GetSecret(ctx, slot); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound after deletion, got %v", err)
	}
}

func TestInMemoryManagerCapacity(t *testing.T) {
	ctx := context.Background()
	mgr := NewInMemoryManager(2)

	if _, _, err := mgr.NewSecret(ctx); err != nil {
		t.Fatalf("NewSecret 1: %v", err)
	}
	if _, _, err := mgr.NewSecret(ctx); err != nil {
		t.Fatalf("NewSecret 2: %v", err)
	}
	if _, _, err := mgr.NewSecret(ctx); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestInMemoryManagerDeleteAll(t *testing.T) {
	ctx := context.Background()
	mgr := NewInMemoryManager(0)
	slots := make([]Slot, 0, 3)
	for i := 0; i < 3; i++ {
		slot, _, err := mgr.NewSecret(ctx)
		if err != nil {
			t.Fatalf("NewSecret: %v", err)
		}
		slots = append(slots, slot)
	}

	if err := mgr.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	for _, slot := range slots {
		if _, err := mgr.GetSecret(ctx, slot); !errors.Is(err, ErrSlotNotFound) {
			t.Fatalf("expected slot %d to be gone after DeleteAll, got %v", slot, err)
		}
	}
}

func TestGuardReleasesOnAbandonedPath(t *testing.T) {
	ctx := context.Background()
	mgr := NewInMemoryManager(0)

	func() {
		guard, slot, _, err := Reserve(ctx, mgr)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		defer guard.Release(ctx)
		_ = slot
		// Simulate a failure after reservation: never call Consume.
	}()

	// The slot should have been deleted when Release ran.
	count := 0
	mgr.mu.Lock()
	count = len(mgr.secrets)
	mgr.mu.Unlock()
	if count != 0 {
		t.Fatalf("expected reserved slot to be released, but %d remain", count)
	}
}

func TestGuardConsumeSuppressesRelease(t *testing.T) {
	ctx := context.Background()
	mgr := NewInMemoryManager(0)

	guard, slot, _, err := Reserve(ctx, mgr)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	guard.Consume()
	guard.Release(ctx)

	if _, err := mgr.GetSecret(ctx, slot); err != nil {
		t.Fatalf("expected consumed slot to survive Release, got %v", err)
	}
}
