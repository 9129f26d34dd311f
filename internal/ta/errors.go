package ta

import (
	"errors"
	"fmt"

	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
)

// taError pairs a stable ErrorCode with a human-readable detail, so
// handlers can return a normal Go error while the dispatcher still
// recovers the numeric code for the response envelope.
type taError struct {
	code protocol.ErrorCode
	msg  string
}

func (e *taError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("ta: error code %d", e.code)
	}
	return fmt.Sprintf("ta: %s", e.msg)
}

// taErr constructs a plain error carrying a stable ErrorCode, for handlers
// to return directly.
func taErr(code protocol.ErrorCode, msg string) error {
	return &taError{code: code, msg: msg}
}

// classify maps an error returned by a handler (possibly wrapping a
// keyblob sentinel error) to the numeric ErrorCode reported in the
// response envelope. Unrecognized errors map to ErrUnknownError rather
// than leaking handler-internal detail onto the wire.
func classify(err error) protocol.ErrorCode {
	if err == nil {
		return protocol.ErrOK
	}
	var te *taError
	if errors.As(err, &te) {
		return te.code
	}
	switch {
	case errors.Is(err, keyblob.ErrKeyRequiresUpgrade):
		return protocol.ErrKeyRequiresUpgrade
	case errors.Is(err, keyblob.ErrRollbackResistanceUnavailable):
		return protocol.ErrRollbackResistanceUnavailable
	case errors.Is(err, keyblob.ErrInvalidKeyBlob):
		return protocol.ErrInvalidKeyBlob
	default:
		return protocol.ErrUnknownError
	}
}
