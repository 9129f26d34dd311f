package cmd

import (
	"fmt"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/sdd"
	"github.com/keymint-ta/core/internal/ta"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// buildTA constructs a KeyMintTA and its collaborators from cfg. The
// returned closer releases any resources (a database connection) opened
// along the way.
func buildTA(cfg *Config) (*ta.KeyMintTA, func() error, error) {
	level := keyblob.SecurityLevelTrustedEnvironment
	if cfg.SecurityLevel == "strongbox" {
		level = keyblob.SecurityLevelStrongbox
	}

	rootKey, err := cfg.RootKey.Resolve()
	if err != nil {
		return nil, nil, err
	}

	sddManager, closer, err := buildSDDManager(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	collab := ta.Collaborators{
		Rng:            cryptoimpl.SystemRng{},
		Clock:          cryptoimpl.SystemClock{},
		Hmac:           cryptoimpl.HmacSHA256{},
		RootKeys:       cryptoimpl.NewStaticRootKeyProvider(rootKey),
		AttestationIDs: &cryptoimpl.InMemoryAttestationIDStore{},
		SDD:            sddManager,
		SkWrapper:      cryptoimpl.SoftwareSkWrapper{},
		KeyGen:         cryptoimpl.SoftwareKeyGenerator{},
	}

	return ta.New(level, collab), closer, nil
}

func buildSDDManager(storage StorageConfig) (sdd.Manager, func() error, error) {
	switch storage.Driver {
	case "", "memory":
		return sdd.NewInMemoryManager(0), func() error { return nil }, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(storage.DSN), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database %s: %w", storage.DSN, err)
		}
		manager, err := sdd.NewGormManager(db)
		if err != nil {
			return nil, nil, err
		}
		closer := func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		return manager, closer, nil
	default:
		return nil, nil, fmt.Errorf("storage: unsupported driver %q", storage.Driver)
	}
}
