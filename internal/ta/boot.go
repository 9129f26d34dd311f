package ta

import (
	"bytes"
	"log/slog"
	"sort"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
)

// sharedSecretMacLabel is the fixed HKDF-style context label mixed into
// every shared-secret HMAC key derivation, matching the "KeymasterSharedMac"
// constant used by the reference ISharedSecret negotiation across
// participants (TEE/StrongBox/...).
const sharedSecretMacLabel = "KeymasterSharedMac"

// BootInfo is the RootOfTrustInfo bundle plus boot_patchlevel, latched
// exactly once per boot while in_early_boot is true.
type BootInfo struct {
	keyblob.RootOfTrustInfo
	BootPatchlevel uint32 `cbor:"5,keyasint"`
}

// HalInfo carries the three platform version markers latched once per
// boot by the HAL.
type HalInfo struct {
	OsVersion        uint32 `cbor:"1,keyasint"`
	OsPatchlevel     uint32 `cbor:"2,keyasint"`
	VendorPatchlevel uint32 `cbor:"3,keyasint"`
}

// SharedSecretParams is the seed and negotiated parameter set for the
// shared-secret (HMAC key agreement) protocol.
type SharedSecretParams struct {
	Seed      []byte
	NonceList [][]byte
}

// HardwareInfo is returned by DeviceGetHardwareInfo.
type HardwareInfo struct {
	SecurityLevel keyblob.SecurityLevel `cbor:"1,keyasint"`
	VersionNumber uint32                `cbor:"2,keyasint"`
	ImplName      string                `cbor:"3,keyasint"`
	AuthorName    string                `cbor:"4,keyasint"`
	UniqueID      string                `cbor:"5,keyasint"`
	Fused         bool                  `cbor:"6,keyasint"`
}

// SetBootInfo latches BootInfo. It is only permitted while in_early_boot;
// a write after early boot has ended, or a second write at any time, is
// logged and ignored rather than rejected — the request still succeeds,
// matching §7's "already-latched configuration writes" swallow rule.
func (t *KeyMintTA) SetBootInfo(info BootInfo) error {
	if !t.inEarlyBoot {
		slog.Warn("ta: SetBootInfo called after early boot ended, ignoring")
		return nil
	}
	t.bootInfo.Set(info)
	return nil
}

// SetHalInfo latches HalInfo on first call.
func (t *KeyMintTA) SetHalInfo(info HalInfo) error {
	t.halInfo.Set(info)
	return nil
}

// SetAttestationIds latches the device's attestation identity strings on
// first call.
func (t *KeyMintTA) SetAttestationIds(ids cryptoimpl.AttestationIDs) error {
	if t.collab.AttestationIDs == nil {
		return taErr(protocol.ErrUnimplemented, "no attestation id store configured")
	}
	if _, ok := t.collab.AttestationIDs.Get(); ok {
		slog.Warn("ta: SetAttestationIds called again, ignoring")
		return nil
	}
	t.collab.AttestationIDs.Set(ids)
	return nil
}

// DestroyAttestationIds permanently erases the device's attestation
// identity, matching DeviceDestroyAttestationIds.
func (t *KeyMintTA) DestroyAttestationIds() error {
	if t.collab.AttestationIDs == nil {
		return taErr(protocol.ErrUnimplemented, "no attestation id store configured")
	}
	t.collab.AttestationIDs.Destroy()
	return nil
}

// EarlyBootEnded transitions in_early_boot to false. It is idempotent per
// boot: calling it again is a no-op.
func (t *KeyMintTA) EarlyBootEnded() error {
	t.inEarlyBoot = false
	return nil
}

// SetSharedSecretParams latches the shared-secret negotiation seed and, on
// the first (and only effective) call, derives and latches the HMAC key
// that GetRootOfTrust, SendRootOfTrust, and the HardwareAuthToken path all
// require: HMAC(key=seed, msg=label||sorted(nonces)) over the negotiated
// params from every participant, matching the device_hmac key-agreement
// step the reference ComputeSharedSecret performs.
func (t *KeyMintTA) SetSharedSecretParams(params SharedSecretParams) error {
	if !t.sharedSecretParams.Set(params) {
		return nil
	}
	if t.collab.Hmac == nil {
		return taErr(protocol.ErrHardwareNotYetAvailable, "no hmac collaborator configured")
	}
	t.hmacKey.Set(t.collab.Hmac.Sum(params.Seed, sharedSecretMacInput(params.NonceList)))
	return nil
}

// sharedSecretMacInput renders the negotiated nonce list to the
// deterministic byte sequence the HMAC key is derived over: nonces are
// sorted lexicographically first so that every participant, regardless of
// the order its own params arrived in, derives the same key.
func sharedSecretMacInput(nonces [][]byte) []byte {
	sorted := append([][]byte(nil), nonces...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	input := []byte(sharedSecretMacLabel)
	for _, n := range sorted {
		input = append(input, n...)
	}
	return input
}

// GetHardwareInfo reports the TA's static hardware description.
func (t *KeyMintTA) GetHardwareInfo() HardwareInfo {
	fused := false
	if t.collab.AttestationIDs != nil {
		if ids, ok := t.collab.AttestationIDs.Get(); ok {
			fused = len(ids.Serial) > 0
		}
	}
	return HardwareInfo{
		SecurityLevel: t.securityLevel,
		VersionNumber: 4,
		ImplName:      "keymint-ta-core",
		AuthorName:    "keymint-ta",
		UniqueID:      t.securityLevel.String(),
		Fused:         fused,
	}
}
