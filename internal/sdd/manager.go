// Package sdd implements the secure-deletion slot manager (C3): a table of
// secrets (capacity-bounded only when InMemoryManager is given a nonzero
// capacity) that can be irrecoverably destroyed on demand, used to bind keyblobs with rollback-resistance or a usage-count
// limit of one to storage that the TA can actually erase.
package sdd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// Slot identifies a reserved secure-deletion slot.
type Slot uint32

// Secret is the pair of values mixed into a keyblob's KEK derivation and
// destroyed together when the slot is deleted.
type Secret struct {
	FactoryResetSecret   [32]byte
	SecureDeletionSecret [16]byte
}

// ErrSlotNotFound is returned by GetSecret/DeleteSecret when no secret is
// held in the given slot — either it was never allocated, or it has
// already been deleted.
var ErrSlotNotFound = errors.New("sdd: slot not found")

// ErrCapacityExceeded is returned by NewSecret when the manager's
// fixed-size backing store has no free slot left.
var ErrCapacityExceeded = errors.New("sdd: no free slot")

// Manager allocates, reads, and irrecoverably destroys secure-deletion
// secrets. Implementations must make DeleteSecret and DeleteAll genuinely
// destructive: once a slot is deleted its prior contents must not be
// recoverable from the backing store.
type Manager interface {
	NewSecret(ctx context.Context) (Slot, Secret, error)
	GetSecret(ctx context.Context, slot Slot) (Secret, error)
	DeleteSecret(ctx context.Context, slot Slot) error
	DeleteAll(ctx context.Context) error
}

// InMemoryManager is a reference Manager backed by a map, suitable for
// software-only configurations and tests. Deletion zeroes the secret
// in-place before dropping the map entry.
type InMemoryManager struct {
	mu      sync.Mutex
	secrets map[Slot]Secret
	next    Slot
	maxSlot uint32
}

// NewInMemoryManager returns an InMemoryManager with the given slot
// capacity (0 means unbounded).
func NewInMemoryManager(capacity uint32) *InMemoryManager {
	return &InMemoryManager{
		secrets: make(map[Slot]Secret),
		maxSlot: capacity,
	}
}

func (m *InMemoryManager) NewSecret(ctx context.Context) (Slot, Secret, error) {
	if err := ctx.Err(); err != nil {
		return 0, Secret{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSlot != 0 && uint32(len(m.secrets)) >= m.maxSlot {
		return 0, Secret{}, ErrCapacityExceeded
	}

	var s Secret
	if _, err := rand.Read(s.FactoryResetSecret[:]); err != nil {
		return 0, Secret{}, fmt.Errorf("sdd: generating factory reset secret: %w", err)
	}
	if _, err := rand.Read(s.SecureDeletionSecret[:]); err != nil {
		return 0, Secret{}, fmt.Errorf("sdd: generating secure deletion secret: %w", err)
	}

	slot := m.next
	m.next++
	m.secrets[slot] = s
	return slot, s, nil
}

func (m *InMemoryManager) GetSecret(ctx context.Context, slot Slot) (Secret, error) {
	if err := ctx.Err(); err != nil {
		return Secret{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[slot]
	if !ok {
		return Secret{}, fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}
	return s, nil
}

func (m *InMemoryManager) DeleteSecret(ctx context.Context, slot Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[slot]
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}
	zero(&s)
	m.secrets[slot] = s
	delete(m.secrets, slot)
	return nil
}

func (m *InMemoryManager) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for slot, s := range m.secrets {
		zero(&s)
		m.secrets[slot] = s
		delete(m.secrets, slot)
	}
	return nil
}

func zero(s *Secret) {
	for i := range s.FactoryResetSecret {
		s.FactoryResetSecret[i] = 0
	}
	for i := range s.SecureDeletionSecret {
		s.SecureDeletionSecret[i] = 0
	}
}
