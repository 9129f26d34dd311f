package ta

import (
	"bytes"
	"testing"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
)

func newTokenOnlyTestTA(t *testing.T) *KeyMintTA {
	t.Helper()
	rootKey := bytes.Repeat([]byte{0x22}, 32)
	ta := New(keyblob.SecurityLevelTrustedEnvironment, Collaborators{
		Rng:      cryptoimpl.SystemRng{},
		Hmac:     cryptoimpl.HmacSHA256{},
		RootKeys: cryptoimpl.NewStaticRootKeyProvider(rootKey),
	})
	if err := ta.SetSharedSecretParams(SharedSecretParams{
		Seed:      bytes.Repeat([]byte{0x33}, 16),
		NonceList: [][]byte{bytes.Repeat([]byte{0x01}, 32)},
	}); err != nil {
		t.Fatalf("SetSharedSecretParams: %v", err)
	}
	return ta
}

func signedTestToken(t *testing.T, ta *KeyMintTA, timestampMs uint64) HardwareAuthToken {
	t.Helper()
	tok := HardwareAuthToken{Challenge: 1, UserID: 2, AuthenticatorID: 3, AuthenticatorType: 1, TimestampMs: timestampMs}
	key, ok := ta.hmacKey.Get()
	if !ok {
		t.Fatalf("hmac key not latched")
	}
	tok.Mac = ta.collab.Hmac.Sum(key, hardwareAuthTokenMacInput(tok))
	return tok
}

func TestDeviceLockedUsesVerifiedTokenTimestampWithoutClock(t *testing.T) {
	ta := newTokenOnlyTestTA(t)
	tok := signedTestToken(t, ta, 123456)

	if err := ta.DeviceLocked(false, &tok); err != nil {
		t.Fatalf("DeviceLocked: %v", err)
	}
	state := ta.IsDeviceLocked()
	if state.Kind != LockLockedSince {
		t.Fatalf("expected LockLockedSince, got %v", state.Kind)
	}
	if state.Since.UnixMilli() != 123456 {
		t.Fatalf("expected lock time from token timestamp, got %v", state.Since)
	}
}

func TestDeviceLockedRejectsTamperedTokenMac(t *testing.T) {
	ta := newTokenOnlyTestTA(t)
	tok := signedTestToken(t, ta, 123456)
	tok.Mac[0] ^= 0xFF

	if err := ta.DeviceLocked(false, &tok); err == nil {
		t.Fatalf("expected an error for a tampered token MAC")
	}
}
