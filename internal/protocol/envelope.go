package protocol

import (
	"fmt"

	"github.com/keymint-ta/core/internal/wire"
)

// Request is the decoded outer shape `[opcode, payload]` that every framed
// request carries. Payload is left as a RawMessage so the dispatcher can
// decode it into the opcode-specific request type only after the opcode
// has selected a handler.
type Request struct {
	_       struct{} `cbor:",toarray"`
	Opcode  Opcode
	Payload wire.RawMessage
}

// Response is the encoded outer shape `[error_code, payload?]`.
type Response struct {
	_         struct{} `cbor:",toarray"`
	ErrorCode ErrorCode
	Payload   wire.RawMessage
}

// DecodeRequest parses a single framed request. On any decode failure the
// caller MUST respond with InvalidRequestFallback rather than anything
// this function returns — that fallback is emitted without ever invoking
// the codec on the offending bytes a second time.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := wire.Unmarshal(data, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// EncodeSuccess encodes a successful response carrying payload (marshaled
// with the canonical encoder) under ErrOK.
func EncodeSuccess(payload any) ([]byte, error) {
	payloadBytes, err := wire.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding response payload: %w", err)
	}
	return wire.Marshal(Response{ErrorCode: ErrOK, Payload: payloadBytes})
}

// EncodeError encodes a failure response with an empty payload.
func EncodeError(code ErrorCode) []byte {
	data, err := wire.Marshal(Response{ErrorCode: code, Payload: wire.RawMessage{0x80}})
	if err != nil {
		// Marshaling a fixed, well-typed literal cannot fail; if it somehow
		// does, fall back to the same hand-encoded constant used for outer
		// decode failures rather than panicking.
		return InvalidRequestFallback
	}
	return data
}

// DecodePayload decodes req's payload into v, using the opcode-specific
// request type the caller selected via req.Opcode.
func DecodePayload(req Request, v any) error {
	return wire.Unmarshal(req.Payload, v)
}
