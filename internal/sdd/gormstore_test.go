package sdd

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestGormManager(t *testing.T) *GormManager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening in-memory sqlite: %v", err)
	}
	m, err := NewGormManager(db)
	if err != nil {
		t.Fatalf("NewGormManager: %v", err)
	}
	return m
}

func TestGormManagerNewGetDelete(t *testing.T) {
	m := newTestGormManager(t)
	ctx := context.Background()

	slot, secret, err := m.NewSecret(ctx)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}

	got, err := m.GetSecret(ctx, slot)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != secret {
		t.Fatalf("GetSecret returned a different secret than NewSecret produced")
	}

	if err := m.DeleteSecret(ctx, slot); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	if _, err := m.GetSecret(ctx, slot); err == nil {
		t.Fatalf("expected GetSecret to fail after DeleteSecret")
	}
}

func TestGormManagerDeleteAll(t *testing.T) {
	m := newTestGormManager(t)
	ctx := context.Background()

	slots := make([]Slot, 0, 3)
	for i := 0; i < 3; i++ {
		slot, _, err := m.NewSecret(ctx)
		if err != nil {
			t.Fatalf("NewSecret: %v", err)
		}
		slots = append(slots, slot)
	}

	if err := m.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	for _, slot := range slots {
		if _, err := m.GetSecret(ctx, slot); err == nil {
			t.Fatalf("expected slot %d to be gone after DeleteAll", slot)
		}
	}
}

func TestGormManagerPersistsAcrossManagerInstances(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening shared-cache in-memory sqlite: %v", err)
	}
	first, err := NewGormManager(db)
	if err != nil {
		t.Fatalf("NewGormManager: %v", err)
	}
	slot, secret, err := first.NewSecret(context.Background())
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}

	second, err := NewGormManager(db)
	if err != nil {
		t.Fatalf("second NewGormManager: %v", err)
	}
	got, err := second.GetSecret(context.Background(), slot)
	if err != nil {
		t.Fatalf("GetSecret from second manager: %v", err)
	}
	if got != secret {
		t.Fatalf("secret read back through a second manager handle does not match")
	}
}
