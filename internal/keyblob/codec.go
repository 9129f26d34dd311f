package keyblob

import (
	"fmt"

	"github.com/keymint-ta/core/internal/wire"
)

// Version is the keyblob format generation tag.
type Version int64

const (
	// VersionV1 is the initial keyblob format. Unknown (future) versions
	// MUST fail decode with ErrInvalidKeyBlob.
	VersionV1 Version = 0
)

// structuralAEADTag is the CBOR major-6 tag number used to mark the
// authenticated-encryption envelope, mirroring COSE_Encrypt0's registered
// tag (RFC 8152 §2: tag 16).
const structuralAEADTag = 16

// algA256GCM is the COSE algorithm identifier (RFC 8152 §10.2) for
// AES-256-GCM, stored in the AEAD envelope's protected header.
const algA256GCM = 3

// SecureDeletionSlot identifies a reserved slot in secure storage holding
// the secret values mixed into a keyblob's KEK derivation.
type SecureDeletionSlot uint32

// aeadEnvelope is the wire shape of the structural AEAD envelope, encoded
// as a 3-element CBOR array (protected header bytes, empty unprotected
// header map, ciphertext||tag) under tag 16 — the same layout as
// COSE_Encrypt0 without pulling in a full COSE library, since the TA only
// ever produces and consumes its own envelopes.
type aeadEnvelope struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]any
	Ciphertext  []byte
}

// encStructureData builds the COSE Enc_structure AAD: an array of
// [context, protected, external_aad] with context fixed to "Encrypt0" and
// an empty external AAD, per RFC 8152 §5.3.
func encStructureData(protected []byte) ([]byte, error) {
	data, err := wire.Marshal([]any{"Encrypt0", protected, []byte{}})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding Enc_structure: %v", ErrInvalidKeyBlob, err)
	}
	return data, nil
}

func protectedHeaderBytes() ([]byte, error) {
	return wire.Marshal(map[int]any{1: algA256GCM})
}

// encryptedKeyBlobV1 is the V1 variant's inner structure, matching §6's
// wire format exactly:
//
//	[ characteristics, key_derivation_input, #6.16(aead envelope), secure_deletion_slot? ]
type encryptedKeyBlobV1 struct {
	_                   struct{} `cbor:",toarray"`
	Characteristics     []KeyCharacteristics
	KeyDerivationInput  []byte
	EncryptedKeyMaterial wire.Tag
	SecureDeletionSlot  *SecureDeletionSlot
}

// EncryptedKeyBlob is the tagged sum over keyblob format versions. Only V1
// exists today; future versions would add a case here and in decode/encode
// below, never change V1's meaning.
type EncryptedKeyBlob struct {
	Version             Version
	Characteristics      []KeyCharacteristics
	KeyDerivationInput   [32]byte
	AEADProtectedHeader  []byte
	AEADCiphertext       []byte
	SecureDeletionSlot   *SecureDeletionSlot
}

// Decode parses untrusted bytes from host-space into an EncryptedKeyBlob.
// It never panics, never allocates unboundedly, and always returns either a
// valid blob or a typed error — this is the property the fuzz target in
// fuzz_test.go exercises directly.
func Decode(data []byte) (*EncryptedKeyBlob, error) {
	var outer struct {
		_       struct{} `cbor:",toarray"`
		Version Version
		Inner   wire.RawMessage
	}
	if err := wire.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyBlob, err)
	}

	switch outer.Version {
	case VersionV1:
		return decodeV1(outer.Inner)
	default:
		return nil, fmt.Errorf("%w: unsupported keyblob version %d", ErrInvalidKeyBlob, outer.Version)
	}
}

func decodeV1(inner []byte) (*EncryptedKeyBlob, error) {
	var v1 encryptedKeyBlobV1
	if err := wire.Unmarshal(inner, &v1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyBlob, err)
	}

	if len(v1.KeyDerivationInput) != 32 {
		return nil, fmt.Errorf("%w: key_derivation_input must be exactly 32 bytes, got %d", ErrInvalidKeyBlob, len(v1.KeyDerivationInput))
	}
	if v1.EncryptedKeyMaterial.Number != structuralAEADTag {
		return nil, fmt.Errorf("%w: encrypted_key_material missing structural AEAD tag", ErrInvalidKeyBlob)
	}
	var envelope aeadEnvelope
	envBytes, err := wire.Marshal(v1.EncryptedKeyMaterial.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encoding AEAD envelope content: %v", ErrInvalidKeyBlob, err)
	}
	if err := wire.Unmarshal(envBytes, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decoding AEAD envelope: %v", ErrInvalidKeyBlob, err)
	}

	if err := rejectDuplicateSecurityLevels(v1.Characteristics); err != nil {
		return nil, err
	}

	blob := &EncryptedKeyBlob{
		Version:            VersionV1,
		Characteristics:     v1.Characteristics,
		AEADProtectedHeader: envelope.Protected,
		AEADCiphertext:      envelope.Ciphertext,
		SecureDeletionSlot:  v1.SecureDeletionSlot,
	}
	copy(blob.KeyDerivationInput[:], v1.KeyDerivationInput)
	return blob, nil
}

// rejectDuplicateSecurityLevels implements the conservative reject decided
// for the "police duplicate characteristics" open question (SPEC_FULL.md
// §6): a keyblob with two KeyCharacteristics entries at the same security
// level is rejected outright rather than trusted.
func rejectDuplicateSecurityLevels(chars []KeyCharacteristics) error {
	seen := make(map[SecurityLevel]bool, len(chars))
	for _, c := range chars {
		if seen[c.SecurityLevel] {
			return fmt.Errorf("%w: duplicate characteristics at security level %s", ErrInvalidKeyBlob, c.SecurityLevel)
		}
		seen[c.SecurityLevel] = true
	}
	return nil
}

// Encode emits the canonical two-element [version, inner] shape described
// in §6, always with the structural AEAD tag attached.
func (b *EncryptedKeyBlob) Encode() ([]byte, error) {
	switch b.Version {
	case VersionV1:
		inner, err := b.encodeV1()
		if err != nil {
			return nil, err
		}
		return wire.Marshal([]any{int64(VersionV1), wire.RawMessage(inner)})
	default:
		return nil, fmt.Errorf("%w: unsupported keyblob version %d", ErrInvalidKeyBlob, b.Version)
	}
}

func (b *EncryptedKeyBlob) encodeV1() ([]byte, error) {
	envelope := aeadEnvelope{
		Protected:   b.AEADProtectedHeader,
		Unprotected: map[int]any{},
		Ciphertext:  b.AEADCiphertext,
	}
	v1 := encryptedKeyBlobV1{
		Characteristics:      b.Characteristics,
		KeyDerivationInput:   append([]byte(nil), b.KeyDerivationInput[:]...),
		EncryptedKeyMaterial: wire.Tag{Number: structuralAEADTag, Content: envelope},
		SecureDeletionSlot:   b.SecureDeletionSlot,
	}
	return wire.Marshal(v1)
}
