package ta

import (
	"github.com/keymint-ta/core/internal/protocol"
)

// GetRootOfTrustChallenge returns a fresh challenge nonce. StrongBox-only;
// a TEE instance calling this returns Unimplemented, matching the
// HAL-level role gating in §4.5.
func (t *KeyMintTA) GetRootOfTrustChallenge() ([]byte, error) {
	if !t.isStrongBox() {
		return nil, taErr(protocol.ErrUnimplemented, "GetRootOfTrustChallenge is StrongBox-only")
	}
	challenge := make([]byte, 16)
	if _, err := t.collab.Rng.Read(challenge); err != nil {
		return nil, taErr(protocol.ErrUnknownError, "generating challenge: "+err.Error())
	}
	return challenge, nil
}

// GetRootOfTrust returns the MAC-protected RootOfTrustInfo payload.
// TEE-only.
func (t *KeyMintTA) GetRootOfTrust() ([]byte, error) {
	if t.isStrongBox() {
		return nil, taErr(protocol.ErrUnimplemented, "GetRootOfTrust is TEE-only")
	}
	payload, err := t.rootOfTrustBytes()
	if err != nil {
		return nil, err
	}
	key, ok := t.hmacKey.Get()
	if !ok {
		return nil, taErr(protocol.ErrHardwareNotYetAvailable, "hmac key not yet negotiated")
	}
	tag := t.collab.Hmac.Sum(key, payload)
	return append(payload, tag...), nil
}

// SendRootOfTrust verifies the MAC on a RootOfTrustInfo payload produced
// by GetRootOfTrust on a paired TEE instance. StrongBox-only. A payload
// whose MAC verifies is accepted but not stored or applied.
func (t *KeyMintTA) SendRootOfTrust(payloadWithTag []byte) error {
	if !t.isStrongBox() {
		return taErr(protocol.ErrUnimplemented, "SendRootOfTrust is StrongBox-only")
	}
	key, ok := t.hmacKey.Get()
	if !ok {
		return taErr(protocol.ErrHardwareNotYetAvailable, "hmac key not yet negotiated")
	}
	if len(payloadWithTag) < 32 {
		return taErr(protocol.ErrInvalidInputLength, "SendRootOfTrust payload too short")
	}
	payload := payloadWithTag[:len(payloadWithTag)-32]
	tag := payloadWithTag[len(payloadWithTag)-32:]
	want := t.collab.Hmac.Sum(key, payload)
	if !constantTimeEqual(want, tag) {
		return taErr(protocol.ErrVerificationFailed, "root of trust MAC mismatch")
	}
	return nil
}

// AddRngEntropy accepts caller-supplied entropy. Payloads over
// MaxRngEntropyBytes are rejected to bound the call's cost; accepted data
// is discarded, since the Rng collaborator takes no input.
func (t *KeyMintTA) AddRngEntropy(data []byte) error {
	if len(data) > MaxRngEntropyBytes {
		return taErr(protocol.ErrInvalidInputLength, "AddRngEntropy payload exceeds 2048 bytes")
	}
	return nil
}
