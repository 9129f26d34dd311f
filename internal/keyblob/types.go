// Package keyblob implements the versioned, authenticated-encryption
// keyblob envelope (C2) and the sealing engine that derives per-keyblob key
// encryption keys and encrypts/decrypts key material under them (C4).
package keyblob

import "fmt"

// SecurityLevel identifies which execution environment tier a set of key
// characteristics applies to.
type SecurityLevel int32

const (
	SecurityLevelSoftware SecurityLevel = iota
	SecurityLevelTrustedEnvironment
	SecurityLevelStrongbox
)

func (s SecurityLevel) String() string {
	switch s {
	case SecurityLevelSoftware:
		return "software"
	case SecurityLevelTrustedEnvironment:
		return "tee"
	case SecurityLevelStrongbox:
		return "strongbox"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", int32(s))
	}
}

// Purpose is the set of operations a key may be used for.
type Purpose int32

const (
	PurposeEncrypt Purpose = iota
	PurposeDecrypt
	PurposeSign
	PurposeVerify
	PurposeWrapKey
	PurposeAgreeKey
	PurposeAttestKey
)

// Algorithm identifies the cryptographic algorithm family of a key.
type Algorithm int32

const (
	AlgorithmAES Algorithm = iota
	AlgorithmEC
	AlgorithmRSA
	AlgorithmHMAC
	AlgorithmTripleDES
)

// VerifiedBootState mirrors the Android verified-boot state enumeration.
type VerifiedBootState int32

const (
	VerifiedBootStateVerified VerifiedBootState = iota
	VerifiedBootStateSelfSigned
	VerifiedBootStateUnverified
	VerifiedBootStateFailed
)

func (v VerifiedBootState) String() string {
	switch v {
	case VerifiedBootStateVerified:
		return "Verified"
	case VerifiedBootStateSelfSigned:
		return "SelfSigned"
	case VerifiedBootStateUnverified:
		return "Unverified"
	case VerifiedBootStateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("VerifiedBootState(%d)", int32(v))
	}
}

// KeyParamTag identifies the kind of value carried by a KeyParam.
type KeyParamTag int32

const (
	TagPurpose KeyParamTag = iota
	TagAlgorithm
	TagKeySize
	TagRollbackResistance
	TagUsageCountLimit
	TagOsVersion
	TagOsPatchlevel
	TagVendorPatchlevel
	TagBootPatchlevel
	TagApplicationId
	TagApplicationData
	TagOrigin
)

// KeyOrigin records how a key's material came to exist.
type KeyOrigin int32

const (
	OriginGenerated KeyOrigin = iota
	OriginImported
	OriginUnwrapped
)

// KeyParam is a single tagged authorization parameter. Exactly one of the
// typed fields is meaningful, selected by Tag; this mirrors the original
// KeyParam enum's variants without requiring a full sum-type encoding in
// Go.
type KeyParam struct {
	Tag KeyParamTag `cbor:"1,keyasint"`

	Purpose         Purpose   `cbor:"2,keyasint,omitempty"`
	Algorithm       Algorithm `cbor:"3,keyasint,omitempty"`
	KeySizeBits     uint32    `cbor:"4,keyasint,omitempty"`
	UsageCountLimit uint32    `cbor:"5,keyasint,omitempty"`
	OsVersion       uint32    `cbor:"6,keyasint,omitempty"`
	OsPatchlevel    uint32    `cbor:"7,keyasint,omitempty"`
	VendorPatch     uint32    `cbor:"8,keyasint,omitempty"`
	BootPatch       uint32    `cbor:"9,keyasint,omitempty"`
	ApplicationId   []byte    `cbor:"10,keyasint,omitempty"`
	ApplicationData []byte    `cbor:"11,keyasint,omitempty"`
	Origin          KeyOrigin `cbor:"12,keyasint,omitempty"`
}

func (p KeyParam) String() string {
	switch p.Tag {
	case TagPurpose:
		return fmt.Sprintf("Purpose(%d)", p.Purpose)
	case TagAlgorithm:
		return fmt.Sprintf("Algorithm(%d)", p.Algorithm)
	case TagKeySize:
		return fmt.Sprintf("KeySize(%d)", p.KeySizeBits)
	case TagRollbackResistance:
		return "RollbackResistance"
	case TagUsageCountLimit:
		return fmt.Sprintf("UsageCountLimit(%d)", p.UsageCountLimit)
	case TagOsVersion:
		return fmt.Sprintf("OsVersion(%d)", p.OsVersion)
	case TagOsPatchlevel:
		return fmt.Sprintf("OsPatchlevel(%d)", p.OsPatchlevel)
	case TagVendorPatchlevel:
		return fmt.Sprintf("VendorPatchlevel(%d)", p.VendorPatch)
	case TagBootPatchlevel:
		return fmt.Sprintf("BootPatchlevel(%d)", p.BootPatch)
	case TagApplicationId:
		return fmt.Sprintf("ApplicationId(%x)", p.ApplicationId)
	case TagApplicationData:
		return fmt.Sprintf("ApplicationData(%x)", p.ApplicationData)
	case TagOrigin:
		return fmt.Sprintf("Origin(%d)", p.Origin)
	default:
		return fmt.Sprintf("KeyParam(tag=%d)", p.Tag)
	}
}

// RollbackResistance returns a KeyParam with no associated value, used as a
// sentinel authorization that forces secure-deletion binding.
func RollbackResistance() KeyParam { return KeyParam{Tag: TagRollbackResistance} }

// UsageCountLimit returns a KeyParam limiting the number of times a key may
// be used.
func UsageCountLimit(n uint32) KeyParam {
	return KeyParam{Tag: TagUsageCountLimit, UsageCountLimit: n}
}

// KeyCharacteristics pairs a security level with the authorization
// parameters that apply at that level. A well-formed keyblob has at most
// one KeyCharacteristics entry per SecurityLevel (spec §3 invariant).
type KeyCharacteristics struct {
	SecurityLevel  SecurityLevel `cbor:"1,keyasint"`
	Authorizations []KeyParam    `cbor:"2,keyasint"`
}

// CharacteristicsAt returns the authorization parameters for the given
// security level. It assumes (but for externally-provided keyblobs,
// Decode also verifies — see codec.go) that chars has at most one entry
// per security level.
func CharacteristicsAt(chars []KeyCharacteristics, level SecurityLevel) ([]KeyParam, error) {
	for _, c := range chars {
		if c.SecurityLevel == level {
			return c.Authorizations, nil
		}
	}
	return nil, fmt.Errorf("%w: no parameters at security level %s", ErrInvalidKeyBlob, level)
}

// RootOfTrustInfo is the verified-boot state bundle bound into every
// keyblob's hidden-input derivation. It is immutable once latched by the TA
// (see internal/ta/boot.go).
type RootOfTrustInfo struct {
	VerifiedBootKey   [32]byte          `cbor:"1,keyasint"`
	DeviceBootLocked  bool              `cbor:"2,keyasint"`
	VerifiedBootState VerifiedBootState `cbor:"3,keyasint"`
	VerifiedBootHash  [32]byte          `cbor:"4,keyasint"`
}

// PlaintextKeyMaterial is the decrypted payload sealed inside a keyblob.
// Only one of the typed fields is populated, selected by Kind.
type PlaintextKeyMaterial struct {
	Kind Algorithm `cbor:"1,keyasint"`

	// AES/HMAC/TripleDES: raw symmetric key bytes.
	SymmetricKey []byte `cbor:"2,keyasint,omitempty"`
	// RSA/EC: PKCS#8 DER-encoded private key.
	Pkcs8 []byte `cbor:"3,keyasint,omitempty"`
}
