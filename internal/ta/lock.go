package ta

import (
	"time"

	"github.com/keymint-ta/core/internal/protocol"
)

// LockKind discriminates the device-lock state variants.
type LockKind int

const (
	LockUnlocked LockKind = iota
	LockLockedSince
	LockPasswordLockedSince
)

// LockState records whether the device is locked and, if so, since when
// and whether a password re-entry is also required.
type LockState struct {
	Kind LockKind
	Since time.Time
}

// DeviceLocked records a lock transition. If the crypto implementation
// supplies a local clock, the current time is used; otherwise the caller
// must supply a HardwareAuthToken whose MAC verifies under the negotiated
// HMAC key, and its timestamp is used instead. Supplying neither is
// InvalidArgument.
//
// The token branch is never exercised through this method in the default
// build, since cmd/build.go always wires SystemClock; it is covered
// directly by the no-clock token-path tests in lock_test.go instead.
func (t *KeyMintTA) DeviceLocked(passwordOnly bool, tok *HardwareAuthToken) error {
	var since time.Time
	switch {
	case t.collab.Clock != nil:
		since = t.collab.Clock.Now()
	case tok != nil:
		if err := t.verifyHardwareAuthToken(*tok); err != nil {
			return err
		}
		since = time.UnixMilli(int64(tok.TimestampMs))
	default:
		return taErr(protocol.ErrInvalidArgument, "device_locked requires either a local clock or a verified timestamp token")
	}

	kind := LockLockedSince
	if passwordOnly {
		kind = LockPasswordLockedSince
	}
	t.deviceLock = LockState{Kind: kind, Since: since}
	return nil
}

// IsDeviceLocked reports the current lock state.
func (t *KeyMintTA) IsDeviceLocked() LockState {
	return t.deviceLock
}

// Unlock clears the device-lock state, called once the user has
// successfully re-authenticated.
func (t *KeyMintTA) Unlock() {
	t.deviceLock = LockState{Kind: LockUnlocked}
}
