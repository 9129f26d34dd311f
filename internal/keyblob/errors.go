package keyblob

import "errors"

// Sentinel errors surfaced by the keyblob codec and sealing engine. The
// dispatcher (internal/ta) maps these to the numeric ErrorCode taxonomy at
// the response boundary; nothing in this package knows about wire error
// codes.
var (
	// ErrInvalidKeyBlob covers every structurally-invalid or
	// cryptographically-unverifiable keyblob: bad shape, unknown version,
	// missing/mismatched AEAD tag, AEAD verification failure, a keyblob
	// claiming a "future" version-like field, or a secure-deletion slot
	// with no manager attached.
	ErrInvalidKeyBlob = errors.New("keyblob: invalid key blob")
	// ErrRollbackResistanceUnavailable is returned by Encrypt when the
	// characteristics require secure-deletion binding but no
	// SecureDeletionSecretManager was supplied.
	ErrRollbackResistanceUnavailable = errors.New("keyblob: rollback resistance unavailable, no secure storage")
	// ErrKeyRequiresUpgrade is returned by Decrypt when a version-like
	// characteristic (OsVersion, OsPatchlevel, VendorPatchlevel,
	// BootPatchlevel) is older than the TA's current latched value.
	ErrKeyRequiresUpgrade = errors.New("keyblob: key requires upgrade")
)
