package keyblob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/keymint-ta/core/internal/sdd"
)

func testRootKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelTrustedEnvironment, Authorizations: []KeyParam{
			{Tag: TagAlgorithm, Algorithm: AlgorithmAES},
			{Tag: TagKeySize, KeySizeBits: 256},
		}},
	}
	hidden := []KeyParam{{Tag: TagApplicationId, ApplicationId: []byte("app")}}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x07}, 32)}

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, hidden, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(ctx, testRootKey(), blob, hidden, nil, SecurityLevelTrustedEnvironment, nil)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got.SymmetricKey, plaintext.SymmetricKey) {
		t.Fatalf("decrypted key mismatch: got %x, want %x", got.SymmetricKey, plaintext.SymmetricKey)
	}
}

func TestEncryptDecryptWireRoundTrip(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelStrongbox, Authorizations: []KeyParam{
			{Tag: TagAlgorithm, Algorithm: AlgorithmHMAC},
		}},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmHMAC, SymmetricKey: bytes.Repeat([]byte{0x11}, 32)}

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	data, err := blob.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := Decrypt(ctx, testRootKey(), decoded, nil, nil, SecurityLevelStrongbox, nil)
	if err != nil {
		t.Fatalf("Decrypt after wire round trip: %v", err)
	}
	if !bytes.Equal(got.SymmetricKey, plaintext.SymmetricKey) {
		t.Fatalf("decrypted key mismatch after wire round trip")
	}
}

func TestEncryptRequiresSecureDeletionManager(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelStrongbox, Authorizations: []KeyParam{RollbackResistance()}},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x01}, 32)}

	_, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, nil)
	if !errors.Is(err, ErrRollbackResistanceUnavailable) {
		t.Fatalf("expected ErrRollbackResistanceUnavailable, got %v", err)
	}

	mgr := sdd.NewInMemoryManager(0)
	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, mgr)
	if err != nil {
		t.Fatalf("Encrypt with manager: %v", err)
	}
	if blob.SecureDeletionSlot == nil {
		t.Fatalf("expected a secure deletion slot to be bound")
	}

	got, err := Decrypt(ctx, testRootKey(), blob, nil, mgr, SecurityLevelStrongbox, nil)
	if err != nil {
		t.Fatalf("Decrypt with manager: %v", err)
	}
	if !bytes.Equal(got.SymmetricKey, plaintext.SymmetricKey) {
		t.Fatalf("decrypted key mismatch")
	}
}

func TestDecryptFailsAfterSlotDeleted(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelStrongbox, Authorizations: []KeyParam{UsageCountLimit(1)}},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x09}, 32)}
	mgr := sdd.NewInMemoryManager(0)

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, mgr)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := mgr.DeleteSecret(ctx, sdd.Slot(*blob.SecureDeletionSlot)); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}

	if _, err := Decrypt(ctx, testRootKey(), blob, nil, mgr, SecurityLevelStrongbox, nil); !errors.Is(err, ErrInvalidKeyBlob) {
		t.Fatalf("expected ErrInvalidKeyBlob after slot deletion, got %v", err)
	}
}

func TestDecryptDetectsTamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelTrustedEnvironment, Authorizations: nil},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x02}, 32)}

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	blob.AEADCiphertext[0] ^= 0xFF

	if _, err := Decrypt(ctx, testRootKey(), blob, nil, nil, SecurityLevelTrustedEnvironment, nil); !errors.Is(err, ErrInvalidKeyBlob) {
		t.Fatalf("expected ErrInvalidKeyBlob for tampered ciphertext, got %v", err)
	}
}

func TestDecryptRejectsMismatchedHiddenParams(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelTrustedEnvironment, Authorizations: nil},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x03}, 32)}
	hidden := []KeyParam{{Tag: TagApplicationId, ApplicationId: []byte("app-a")}}

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, hidden, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	wrongHidden := []KeyParam{{Tag: TagApplicationId, ApplicationId: []byte("app-b")}}
	if _, err := Decrypt(ctx, testRootKey(), blob, wrongHidden, nil, SecurityLevelTrustedEnvironment, nil); !errors.Is(err, ErrInvalidKeyBlob) {
		t.Fatalf("expected ErrInvalidKeyBlob for mismatched hidden params, got %v", err)
	}
}

func TestDecryptVersionUpgradeCheck(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelTrustedEnvironment, Authorizations: []KeyParam{
			{Tag: TagOsPatchlevel, OsPatchlevel: 202401},
		}},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x04}, 32)}

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	older := VersionLikeAuthorizations{OsPatchlevel: 202501}
	if _, err := Decrypt(ctx, testRootKey(), blob, nil, nil, SecurityLevelTrustedEnvironment, &older); !errors.Is(err, ErrKeyRequiresUpgrade) {
		t.Fatalf("expected ErrKeyRequiresUpgrade, got %v", err)
	}

	same := VersionLikeAuthorizations{OsPatchlevel: 202401}
	if _, err := Decrypt(ctx, testRootKey(), blob, nil, nil, SecurityLevelTrustedEnvironment, &same); err != nil {
		t.Fatalf("expected success at matching patchlevel, got %v", err)
	}
}

func TestDecryptOsVersionZeroSpecialCase(t *testing.T) {
	ctx := context.Background()
	characteristics := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelTrustedEnvironment, Authorizations: []KeyParam{
			{Tag: TagOsVersion, OsVersion: 0},
		}},
	}
	plaintext := PlaintextKeyMaterial{Kind: AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x05}, 32)}

	blob, err := Encrypt(ctx, testRootKey(), plaintext, characteristics, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	current := VersionLikeAuthorizations{OsVersion: 0}
	if _, err := Decrypt(ctx, testRootKey(), blob, nil, nil, SecurityLevelTrustedEnvironment, &current); err != nil {
		t.Fatalf("zero-to-zero os_version should be accepted, got %v", err)
	}

	characteristicsNonzero := []KeyCharacteristics{
		{SecurityLevel: SecurityLevelTrustedEnvironment, Authorizations: []KeyParam{
			{Tag: TagOsVersion, OsVersion: 5},
		}},
	}
	blobNonzero, err := Encrypt(ctx, testRootKey(), plaintext, characteristicsNonzero, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(ctx, testRootKey(), blobNonzero, nil, nil, SecurityLevelTrustedEnvironment, &current); !errors.Is(err, ErrKeyRequiresUpgrade) {
		t.Fatalf("expected ErrKeyRequiresUpgrade when current os_version is 0 and keyblob os_version is nonzero, got %v", err)
	}
}
