package ta

import (
	"context"

	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
	"github.com/keymint-ta/core/internal/sdd"
)

func sddSlot(s keyblob.SecureDeletionSlot) sdd.Slot { return sdd.Slot(s) }

// GenerateKey creates fresh key material satisfying characteristics and
// seals it into a new keyblob.
func (t *KeyMintTA) GenerateKey(ctx context.Context, characteristics []keyblob.KeyCharacteristics, hidden []keyblob.KeyParam) ([]byte, error) {
	ctx = ensureContext(ctx)
	if t.collab.KeyGen == nil {
		return nil, taErr(protocol.ErrUnimplemented, "no key generator configured")
	}

	algo, keySizeBits := algorithmAndKeySize(characteristics)
	symmetricKey, pkcs8, err := t.collab.KeyGen.Generate(int32(algo), keySizeBits)
	if err != nil {
		return nil, taErr(protocol.ErrUnknownError, "generating key material: "+err.Error())
	}
	plaintext := keyblob.PlaintextKeyMaterial{Kind: algo, SymmetricKey: symmetricKey, Pkcs8: pkcs8}

	return t.sealKey(ctx, plaintext, characteristics, hidden)
}

// ImportKey seals caller-supplied plaintext key material directly,
// without generating anything.
func (t *KeyMintTA) ImportKey(ctx context.Context, plaintext keyblob.PlaintextKeyMaterial, characteristics []keyblob.KeyCharacteristics, hidden []keyblob.KeyParam) ([]byte, error) {
	return t.sealKey(ensureContext(ctx), plaintext, characteristics, hidden)
}

// ImportWrappedKey unwraps wrappedKeyDescription using the plaintext
// material of an already-sealed wrapping key, then seals the result as a
// new keyblob under characteristics/hidden.
func (t *KeyMintTA) ImportWrappedKey(ctx context.Context, wrappingKeyBlobBytes, wrappedKeyDescription []byte, hidden []keyblob.KeyParam, characteristics []keyblob.KeyCharacteristics) ([]byte, error) {
	ctx = ensureContext(ctx)
	if t.collab.SkWrapper == nil {
		return nil, taErr(protocol.ErrUnimplemented, "no wrapping-key unwrapper configured")
	}

	wrappingHandle, err := t.BeginOperation(ctx, wrappingKeyBlobBytes, hidden, keyblob.PurposeWrapKey, false)
	if err != nil {
		return nil, err
	}
	defer t.Abort(wrappingHandle)
	_, op, err := t.findOperation(wrappingHandle)
	if err != nil {
		return nil, err
	}

	plaintextBytes, err := t.collab.SkWrapper.Unwrap(op.Material.SymmetricKey, wrappedKeyDescription)
	if err != nil {
		return nil, taErr(protocol.ErrVerificationFailed, "unwrapping wrapped key failed: "+err.Error())
	}

	algo, _ := algorithmAndKeySize(characteristics)
	plaintext := keyblob.PlaintextKeyMaterial{Kind: algo, SymmetricKey: plaintextBytes}
	return t.sealKey(ctx, plaintext, characteristics, hidden)
}

func (t *KeyMintTA) sealKey(ctx context.Context, plaintext keyblob.PlaintextKeyMaterial, characteristics []keyblob.KeyCharacteristics, hidden []keyblob.KeyParam) ([]byte, error) {
	rootOfTrust, err := t.rootOfTrustHidden()
	if err != nil {
		return nil, taErr(protocol.ErrHardwareNotYetAvailable, err.Error())
	}
	rootKey, err := t.rootKeyBytes()
	if err != nil {
		return nil, taErr(protocol.ErrUnknownError, err.Error())
	}
	allHidden := append(append([]keyblob.KeyParam{}, hidden...), rootOfTrust...)

	blob, err := keyblob.Encrypt(ctx, rootKey, plaintext, characteristics, allHidden, t.collab.SDD)
	if err != nil {
		return nil, err
	}
	return blob.Encode()
}

func algorithmAndKeySize(characteristics []keyblob.KeyCharacteristics) (keyblob.Algorithm, uint32) {
	var algo keyblob.Algorithm
	var size uint32
	for _, c := range characteristics {
		for _, p := range c.Authorizations {
			switch p.Tag {
			case keyblob.TagAlgorithm:
				algo = p.Algorithm
			case keyblob.TagKeySize:
				size = p.KeySizeBits
			}
		}
	}
	return algo, size
}

// UpgradeKey re-seals an existing keyblob under the TA's current latched
// version-like values, producing a fresh keyblob that will not trigger
// KeyRequiresUpgrade on a subsequent Begin.
func (t *KeyMintTA) UpgradeKey(ctx context.Context, blobBytes []byte, hidden []keyblob.KeyParam) ([]byte, error) {
	ctx = ensureContext(ctx)
	blob, err := keyblob.Decode(blobBytes)
	if err != nil {
		return nil, err
	}
	rootOfTrust, err := t.rootOfTrustHidden()
	if err != nil {
		return nil, taErr(protocol.ErrHardwareNotYetAvailable, err.Error())
	}
	rootKey, err := t.rootKeyBytes()
	if err != nil {
		return nil, taErr(protocol.ErrUnknownError, err.Error())
	}
	allHidden := append(append([]keyblob.KeyParam{}, hidden...), rootOfTrust...)

	// Skip the version-like gate here (pass nil): the whole point of
	// UpgradeKey is to re-seal a keyblob that Begin would otherwise reject
	// with KeyRequiresUpgrade, so decryption must succeed regardless of how
	// stale its version-like authorizations are.
	material, err := keyblob.Decrypt(ctx, rootKey, blob, allHidden, t.collab.SDD, t.securityLevel, nil)
	if err != nil {
		return nil, err
	}

	characteristics := bumpVersionLikeCharacteristics(blob.Characteristics, t.currentVersionLike())
	return t.sealKey(ctx, *material, characteristics, hidden)
}

func bumpVersionLikeCharacteristics(chars []keyblob.KeyCharacteristics, current *keyblob.VersionLikeAuthorizations) []keyblob.KeyCharacteristics {
	if current == nil {
		return chars
	}
	out := make([]keyblob.KeyCharacteristics, len(chars))
	for i, c := range chars {
		authz := make([]keyblob.KeyParam, len(c.Authorizations))
		for j, p := range c.Authorizations {
			switch p.Tag {
			case keyblob.TagOsVersion:
				p.OsVersion = current.OsVersion
			case keyblob.TagOsPatchlevel:
				p.OsPatchlevel = current.OsPatchlevel
			case keyblob.TagVendorPatchlevel:
				p.VendorPatch = current.VendorPatchlevel
			case keyblob.TagBootPatchlevel:
				p.BootPatch = current.BootPatchlevel
			}
			authz[j] = p
		}
		out[i] = keyblob.KeyCharacteristics{SecurityLevel: c.SecurityLevel, Authorizations: authz}
	}
	return out
}

// DeleteKey releases any secure-deletion slot bound to blobBytes. A
// keyblob that no longer parses is accepted as a successful no-op; no slot
// is released for it.
func (t *KeyMintTA) DeleteKey(ctx context.Context, blobBytes []byte) error {
	ctx = ensureContext(ctx)
	blob, err := keyblob.Decode(blobBytes)
	if err != nil {
		return nil
	}
	if blob.SecureDeletionSlot == nil || t.collab.SDD == nil {
		return nil
	}
	return t.collab.SDD.DeleteSecret(ctx, sddSlot(*blob.SecureDeletionSlot))
}

// DeleteAllKeys destroys every secure-deletion secret, irrecoverably
// invalidating every keyblob that depends on one.
func (t *KeyMintTA) DeleteAllKeys(ctx context.Context) error {
	if t.collab.SDD == nil {
		return nil
	}
	return t.collab.SDD.DeleteAll(ensureContext(ctx))
}

// GetKeyCharacteristics decodes blobBytes and returns its characteristics
// without unsealing the key material.
func (t *KeyMintTA) GetKeyCharacteristics(blobBytes []byte) ([]keyblob.KeyCharacteristics, error) {
	blob, err := keyblob.Decode(blobBytes)
	if err != nil {
		return nil, err
	}
	return blob.Characteristics, nil
}

// ConvertStorageKeyToEphemeral decrypts a storage keyblob (with no
// caller-supplied hidden params, since the API offers none) and re-wraps
// its raw key material under a hardware-managed ephemeral key via the
// SkWrapper collaborator. Unimplemented when no SkWrapper is configured.
func (t *KeyMintTA) ConvertStorageKeyToEphemeral(blobBytes []byte) ([]byte, error) {
	if t.collab.SkWrapper == nil {
		return nil, taErr(protocol.ErrUnimplemented, "storage key conversion requires a hardware storage-key collaborator")
	}

	blob, err := keyblob.Decode(blobBytes)
	if err != nil {
		return nil, err
	}
	rootOfTrust, err := t.rootOfTrustHidden()
	if err != nil {
		return nil, taErr(protocol.ErrHardwareNotYetAvailable, err.Error())
	}
	rootKey, err := t.rootKeyBytes()
	if err != nil {
		return nil, taErr(protocol.ErrUnknownError, err.Error())
	}

	material, err := keyblob.Decrypt(context.Background(), rootKey, blob, rootOfTrust, t.collab.SDD, t.securityLevel, t.currentVersionLike())
	if err != nil {
		return nil, err
	}
	return t.collab.SkWrapper.EphemeralWrap(material.SymmetricKey)
}
