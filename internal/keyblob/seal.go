package keyblob

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/keymint-ta/core/internal/sdd"
	"github.com/keymint-ta/core/internal/wire"
)

// zeroNonce is used for every AES-256-GCM seal in this package. This is
// only safe because the KEK is re-derived fresh for every keyblob (via
// HKDF over a random key_derivation_input), so a given (key, nonce) pair
// is never reused.
var zeroNonce = make([]byte, 12)

// kekInfo builds the HKDF "info" parameter used to derive a keyblob's key
// encryption key:
//
//	key_derivation_input || encode(characteristics) || encode(hidden) || encode(sdd)?
//
// exactly mirroring the reference derive_kek's field ordering, since any
// reordering here would be a silent, un-interoperable KEK change.
func kekInfo(keyDerivationInput [32]byte, characteristics []KeyCharacteristics, hidden []KeyParam, secret *sdd.Secret) ([]byte, error) {
	encChars, err := marshalForKDF(characteristics)
	if err != nil {
		return nil, err
	}
	encHidden, err := marshalForKDF(hidden)
	if err != nil {
		return nil, err
	}

	info := make([]byte, 0, 32+len(encChars)+len(encHidden)+48)
	info = append(info, keyDerivationInput[:]...)
	info = append(info, encChars...)
	info = append(info, encHidden...)
	if secret != nil {
		encSecret, err := marshalForKDF(*secret)
		if err != nil {
			return nil, err
		}
		info = append(info, encSecret...)
	}
	return info, nil
}

func marshalForKDF(v any) ([]byte, error) {
	data, err := wire.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding KDF input: %v", ErrInvalidKeyBlob, err)
	}
	return data, nil
}

// deriveKEK computes a fresh 32-byte key-encryption key for one keyblob
// via HKDF-SHA256, with rootKey as the input keying material, no salt,
// and kekInfo(...) as the info parameter.
func deriveKEK(rootKey []byte, keyDerivationInput [32]byte, characteristics []KeyCharacteristics, hidden []KeyParam, secret *sdd.Secret) ([]byte, error) {
	info, err := kekInfo(keyDerivationInput, characteristics, hidden, secret)
	if err != nil {
		return nil, err
	}
	reader := hkdf.New(sha256.New, rootKey, nil, info)
	kek := make([]byte, 32)
	if _, err := io.ReadFull(reader, kek); err != nil {
		return nil, fmt.Errorf("%w: deriving KEK: %v", ErrInvalidKeyBlob, err)
	}
	return kek, nil
}

// requiresSecureDeletion reports whether any authorization across any
// security level forces secure-deletion binding: a bare RollbackResistance
// tag, or a UsageCountLimit of exactly one.
func requiresSecureDeletion(characteristics []KeyCharacteristics) bool {
	for _, c := range characteristics {
		for _, p := range c.Authorizations {
			switch p.Tag {
			case TagRollbackResistance:
				return true
			case TagUsageCountLimit:
				if p.UsageCountLimit == 1 {
					return true
				}
			}
		}
	}
	return false
}

// Encrypt seals plaintext key material into a new EncryptedKeyBlob.
//
// hidden carries the caller-supplied parameters (ApplicationId /
// ApplicationData) that are mixed into the KEK but never stored in the
// resulting blob. secretMgr may be nil; if any characteristic requires
// secure-deletion binding and secretMgr is nil, Encrypt fails with
// ErrRollbackResistanceUnavailable.
func Encrypt(ctx context.Context, rootKey []byte, plaintext PlaintextKeyMaterial, characteristics []KeyCharacteristics, hidden []KeyParam, secretMgr sdd.Manager) (*EncryptedKeyBlob, error) {
	if err := rejectDuplicateSecurityLevels(characteristics); err != nil {
		return nil, err
	}

	var (
		slotPtr *SecureDeletionSlot
		secret  *sdd.Secret
		guard   *sdd.Guard
	)
	if requiresSecureDeletion(characteristics) {
		if secretMgr == nil {
			return nil, ErrRollbackResistanceUnavailable
		}
		g, slot, s, err := sdd.Reserve(ctx, secretMgr)
		if err != nil {
			return nil, fmt.Errorf("%w: reserving secure deletion slot: %v", ErrRollbackResistanceUnavailable, err)
		}
		guard = g
		defer guard.Release(ctx)
		blobSlot := SecureDeletionSlot(slot)
		slotPtr = &blobSlot
		secret = &s
	}

	var keyDerivationInput [32]byte
	if _, err := rand.Read(keyDerivationInput[:]); err != nil {
		return nil, fmt.Errorf("%w: generating key_derivation_input: %v", ErrInvalidKeyBlob, err)
	}

	kek, err := deriveKEK(rootKey, keyDerivationInput, characteristics, hidden, secret)
	if err != nil {
		return nil, err
	}

	plaintextBytes, err := marshalForKDF(plaintext)
	if err != nil {
		return nil, err
	}

	protected, err := protectedHeaderBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding protected header: %v", ErrInvalidKeyBlob, err)
	}
	aad, err := encStructureData(protected)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: constructing AES cipher: %v", ErrInvalidKeyBlob, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: constructing GCM: %v", ErrInvalidKeyBlob, err)
	}
	ciphertext := gcm.Seal(nil, zeroNonce, plaintextBytes, aad)

	blob := &EncryptedKeyBlob{
		Version:             VersionV1,
		Characteristics:      characteristics,
		KeyDerivationInput:   keyDerivationInput,
		AEADProtectedHeader:  protected,
		AEADCiphertext:       ciphertext,
		SecureDeletionSlot:   slotPtr,
	}

	if guard != nil {
		guard.Consume()
	}
	return blob, nil
}

// Decrypt opens a keyblob and returns the plaintext key material, given the
// same root key, hidden parameters, and secret manager used at encryption
// time.
//
// currentVersionLike, when non-nil, carries the TA's current OsVersion,
// OsPatchlevel, VendorPatchlevel and BootPatchlevel values; if the keyblob
// carries an older value for any of these, Decrypt returns
// ErrKeyRequiresUpgrade instead of opening the blob, mirroring the
// reference check() closure including its OsVersion==0 special case (a
// current OsVersion of 0 is treated as "never installed an OS version
// gate yet" and accepts any keyblob-side OsVersion of 0, but still
// requires an upgrade for any nonzero keyblob-side OsVersion).
func Decrypt(ctx context.Context, rootKey []byte, blob *EncryptedKeyBlob, hidden []KeyParam, secretMgr sdd.Manager, level SecurityLevel, currentVersionLike *VersionLikeAuthorizations) (*PlaintextKeyMaterial, error) {
	if err := rejectDuplicateSecurityLevels(blob.Characteristics); err != nil {
		return nil, err
	}

	if currentVersionLike != nil {
		if err := checkVersionLike(blob.Characteristics, level, *currentVersionLike); err != nil {
			return nil, err
		}
	}

	var secret *sdd.Secret
	if blob.SecureDeletionSlot != nil {
		if secretMgr == nil {
			return nil, fmt.Errorf("%w: keyblob references a secure deletion slot but no manager is configured", ErrInvalidKeyBlob)
		}
		s, err := secretMgr.GetSecret(ctx, sdd.Slot(*blob.SecureDeletionSlot))
		if err != nil {
			return nil, fmt.Errorf("%w: loading secure deletion secret: %v", ErrInvalidKeyBlob, err)
		}
		secret = &s
	}

	kek, err := deriveKEK(rootKey, blob.KeyDerivationInput, blob.Characteristics, hidden, secret)
	if err != nil {
		return nil, err
	}

	aad, err := encStructureData(blob.AEADProtectedHeader)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: constructing AES cipher: %v", ErrInvalidKeyBlob, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: constructing GCM: %v", ErrInvalidKeyBlob, err)
	}
	plaintextBytes, err := gcm.Open(nil, zeroNonce, blob.AEADCiphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: AEAD verification failed: %v", ErrInvalidKeyBlob, err)
	}

	var plaintext PlaintextKeyMaterial
	if err := wire.Unmarshal(plaintextBytes, &plaintext); err != nil {
		return nil, fmt.Errorf("%w: decoding sealed plaintext: %v", ErrInvalidKeyBlob, err)
	}
	return &plaintext, nil
}

// VersionLikeAuthorizations carries the TA's current monotonic version
// markers, used by Decrypt to reject keyblobs sealed under an older
// security patch level.
type VersionLikeAuthorizations struct {
	OsVersion        uint32
	OsPatchlevel     uint32
	VendorPatchlevel uint32
	BootPatchlevel   uint32
}

// checkVersionLike walks only the characteristics at the security level
// being opened, per §4.4 step 6 — a keyblob's other-level characteristics
// (e.g. a StrongBox-bound keyblob's TEE-level entry) must never gate a
// decrypt at this level. Absence of any entry at level is not an error:
// there is simply nothing to check.
func checkVersionLike(characteristics []KeyCharacteristics, level SecurityLevel, current VersionLikeAuthorizations) error {
	authz, err := CharacteristicsAt(characteristics, level)
	if err != nil {
		return nil
	}
	for _, p := range authz {
		var curr uint32
		switch p.Tag {
		case TagOsVersion:
			curr = current.OsVersion
			if curr == 0 {
				if p.OsVersion != 0 {
					return fmt.Errorf("%w: os_version", ErrKeyRequiresUpgrade)
				}
				continue
			}
			if err := compareVersionLike(p.OsVersion, curr, "os_version"); err != nil {
				return err
			}
		case TagOsPatchlevel:
			if err := compareVersionLike(p.OsPatchlevel, current.OsPatchlevel, "os_patchlevel"); err != nil {
				return err
			}
		case TagVendorPatchlevel:
			if err := compareVersionLike(p.VendorPatch, current.VendorPatchlevel, "vendor_patchlevel"); err != nil {
				return err
			}
		case TagBootPatchlevel:
			if err := compareVersionLike(p.BootPatch, current.BootPatchlevel, "boot_patchlevel"); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareVersionLike(keyblobValue, currentValue uint32, field string) error {
	switch {
	case keyblobValue < currentValue:
		return fmt.Errorf("%w: %s", ErrKeyRequiresUpgrade, field)
	case keyblobValue > currentValue:
		return fmt.Errorf("%w: keyblob %s %d is newer than current %d", ErrInvalidKeyBlob, field, keyblobValue, currentValue)
	default:
		return nil
	}
}
