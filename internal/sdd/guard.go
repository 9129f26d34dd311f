package sdd

import (
	"context"
	"log/slog"
)

// Guard reserves a secret for the duration of an operation that might fail
// partway through, and releases it if the operation is abandoned.
//
// Go has no destructor to lean on the way the reference implementation's
// Drop-based SlotHolder does, so callers must explicitly defer Release:
//
//	guard, slot, secret, err := sdd.Reserve(ctx, mgr)
//	if err != nil {
//		return err
//	}
//	defer guard.Release(ctx)
//	... fallible work using slot/secret ...
//	guard.Consume()
//
// Release is a no-op once Consume has been called or after Release itself
// has already run once, so the deferred call is always safe to leave in
// place on the success path.
type Guard struct {
	mgr     Manager
	slot    Slot
	done    bool
	consumed bool
}

// Reserve allocates a new secret and returns a Guard that will delete it
// unless Consume is called first.
func Reserve(ctx context.Context, mgr Manager) (*Guard, Slot, Secret, error) {
	slot, secret, err := mgr.NewSecret(ctx)
	if err != nil {
		return nil, 0, Secret{}, err
	}
	return &Guard{mgr: mgr, slot: slot}, slot, secret, nil
}

// Consume marks the guarded slot as successfully adopted by the caller.
// After Consume, Release no longer deletes the slot.
func (g *Guard) Consume() {
	g.consumed = true
}

// Release deletes the guarded slot unless Consume was already called. It
// is safe to call more than once and safe to call on a nil Guard.
func (g *Guard) Release(ctx context.Context) {
	if g == nil || g.done || g.consumed {
		return
	}
	g.done = true
	if err := g.mgr.DeleteSecret(ctx, g.slot); err != nil {
		slog.Error("sdd: failed to release reserved slot on abandoned path", "slot", g.slot, "error", err)
	}
}
