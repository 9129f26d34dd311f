package sdd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// secretRecord is the GORM model backing GormManager. Columns are opened
// with a non-zero slot counter reserved by the database itself so restarts
// never reissue a slot that survived a crash mid-delete.
type secretRecord struct {
	Slot                 uint32 `gorm:"primaryKey;autoIncrement"`
	FactoryResetSecret   []byte
	SecureDeletionSecret []byte
}

// GormManager is a Manager backed by a GORM-mapped table, for TA builds
// that must survive a process restart without losing track of which
// secure-deletion slots are still live. Deletion issues a real SQL DELETE
// after overwriting the row in place, so a crash between the two still
// leaves the secret unrecoverable from a clean read.
type GormManager struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewGormManager opens (and migrates) the secure-deletion table on db.
func NewGormManager(db *gorm.DB) (*GormManager, error) {
	if err := db.AutoMigrate(&secretRecord{}); err != nil {
		return nil, fmt.Errorf("sdd: migrating secret table: %w", err)
	}
	return &GormManager{db: db}, nil
}

func (m *GormManager) NewSecret(ctx context.Context) (Slot, Secret, error) {
	if err := ctx.Err(); err != nil {
		return 0, Secret{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Secret
	if _, err := rand.Read(s.FactoryResetSecret[:]); err != nil {
		return 0, Secret{}, fmt.Errorf("sdd: generating factory reset secret: %w", err)
	}
	if _, err := rand.Read(s.SecureDeletionSecret[:]); err != nil {
		return 0, Secret{}, fmt.Errorf("sdd: generating secure deletion secret: %w", err)
	}

	record := secretRecord{
		FactoryResetSecret:   append([]byte(nil), s.FactoryResetSecret[:]...),
		SecureDeletionSecret: append([]byte(nil), s.SecureDeletionSecret[:]...),
	}
	if err := m.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, Secret{}, fmt.Errorf("sdd: inserting secret: %w", err)
	}
	return Slot(record.Slot), s, nil
}

func (m *GormManager) GetSecret(ctx context.Context, slot Slot) (Secret, error) {
	if err := ctx.Err(); err != nil {
		return Secret{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var record secretRecord
	err := m.db.WithContext(ctx).First(&record, "slot = ?", uint32(slot)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Secret{}, fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}
	if err != nil {
		return Secret{}, fmt.Errorf("sdd: reading slot %d: %w", slot, err)
	}
	return recordToSecret(record), nil
}

func (m *GormManager) DeleteSecret(ctx context.Context, slot Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, "slot = ?", uint32(slot))
}

func (m *GormManager) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, "1 = 1")
}

// deleteLocked overwrites matching rows with zeroed secrets before deleting
// them, so the destructive intent holds even against a storage engine that
// does not immediately reclaim a DELETEd row's disk pages.
func (m *GormManager) deleteLocked(ctx context.Context, where string, args ...any) error {
	tx := m.db.WithContext(ctx).Model(&secretRecord{}).Where(where, args...)
	result := tx.Updates(map[string]any{
		"factory_reset_secret":   make([]byte, 32),
		"secure_deletion_secret": make([]byte, 16),
	})
	if result.Error != nil {
		return fmt.Errorf("sdd: zeroing before delete: %w", result.Error)
	}
	if result.RowsAffected == 0 && where != "1 = 1" {
		return fmt.Errorf("%w", ErrSlotNotFound)
	}
	if err := m.db.WithContext(ctx).Where(where, args...).Delete(&secretRecord{}).Error; err != nil {
		return fmt.Errorf("sdd: deleting: %w", err)
	}
	return nil
}

func recordToSecret(r secretRecord) Secret {
	var s Secret
	copy(s.FactoryResetSecret[:], r.FactoryResetSecret)
	copy(s.SecureDeletionSecret[:], r.SecureDeletionSecret)
	return s
}
