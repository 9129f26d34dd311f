// Package wire implements the deterministic tagged-value encoding used for
// every on-wire and on-disk structure in the TA: keyblobs, framed requests
// and responses, and the RKP DeviceInfo map. It is a thin, strict-mode
// wrapper around github.com/fxamacker/cbor/v2 rather than a bespoke codec,
// so the only thing this package owns is the policy (canonical ordering,
// strictness, typed errors) layered on top of a real CBOR implementation.
package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Typed decode/encode errors. Every failure from this package's exported
// functions is one of these (wrapped with context), never a bare panic.
var (
	// ErrUnexpectedItem is returned when a decoded value has the wrong CBOR
	// major type or shape for where it appears (e.g. a map where an array
	// of two elements was required).
	ErrUnexpectedItem = errors.New("cbor: unexpected item")
	// ErrExtraneousData is returned when trailing bytes remain after a
	// complete CBOR item has been decoded.
	ErrExtraneousData = errors.New("cbor: extraneous data")
	// ErrDecodeFailed is returned for any other decode failure, including
	// truncated input and input that the underlying CBOR library itself
	// rejects.
	ErrDecodeFailed = errors.New("cbor: decode failed")
	// ErrEncodeFailed is returned when encoding a well-typed Go value
	// somehow fails (e.g. an unsupported type was passed in error).
	ErrEncodeFailed = errors.New("cbor: encode failed")
)

var (
	canonicalEncMode cbor.EncMode
	strictDecMode    cbor.DecMode
)

func init() {
	// RFC 7049 canonical ordering: shorter-encoded key sorts before a
	// longer one; keys of equal encoded length sort bytewise
	// lexicographically. This is deliberately *not* RFC 8949 §4.2.1's
	// bytewise-only ordering (that's cbor.CTAP2EncOptions), because
	// AIDL-derived DeviceInfo maps (and everything else on this wire) were
	// specified against the older RFC 7049 rule.
	encOpts := cbor.CanonicalEncOptions()
	mode, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid canonical encoding options: %v", err))
	}
	canonicalEncMode = mode

	decOpts := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
		MaxNestedLevels:  32,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	mode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid strict decoding options: %v", err))
	}
	strictDecMode = mode
}

// Marshal encodes v using the canonical (RFC 7049) map-key ordering
// required for structures such as RKP DeviceInfo. All structured types in
// this module should be encoded this way so that their wire representation
// is deterministic.
func Marshal(v any) ([]byte, error) {
	data, err := canonicalEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return data, nil
}

// Unmarshal decodes data into v using strict decode rules: unknown-shape
// input, trailing bytes, and indefinite-length items are all rejected with
// a typed error. Unmarshal never panics; any panic raised by the underlying
// decoder (for instance on a pathological adversarial input) is recovered
// and reported as ErrDecodeFailed, which is the property the fuzz target in
// internal/keyblob exercises directly.
func Unmarshal(data []byte, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during decode: %v", ErrDecodeFailed, r)
		}
	}()

	dec := strictDecMode.NewDecoder(bytes.NewReader(data))
	if decErr := dec.Decode(v); decErr != nil {
		return classifyDecodeError(decErr)
	}
	if dec.NumBytesRead() != len(data) {
		return fmt.Errorf("%w: %d trailing byte(s)", ErrExtraneousData, len(data)-dec.NumBytesRead())
	}
	return nil
}

// DecodeOne decodes exactly one CBOR item from data, allowing (and
// reporting) trailing bytes via the returned remainder rather than failing.
// Nothing in this module calls it; protocol.DecodeRequest uses Unmarshal,
// which rejects trailing bytes.
func DecodeOne(data []byte, v any) (remainder []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during decode: %v", ErrDecodeFailed, r)
		}
	}()
	dec := strictDecMode.NewDecoder(bytes.NewReader(data))
	if decErr := dec.Decode(v); decErr != nil {
		return nil, classifyDecodeError(decErr)
	}
	return data[dec.NumBytesRead():], nil
}

func classifyDecodeError(err error) error {
	var unexpected *cbor.UnmarshalTypeError
	if errors.As(err, &unexpected) {
		return fmt.Errorf("%w: %v", ErrUnexpectedItem, err)
	}
	return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
}

// RawMessage carries a slice of still-encoded CBOR, used where a structure
// needs to defer decoding of a sub-item (for example the structural
// AEAD-envelope tag content in a keyblob, which must be inspected for its
// tag number before the payload inside it is parsed).
type RawMessage = cbor.RawMessage

// Tag carries a CBOR major-type-6 tagged value: a registered tag number
// plus its content.
type Tag = cbor.Tag
