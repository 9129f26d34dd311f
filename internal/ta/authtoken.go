package ta

import (
	"encoding/binary"

	"github.com/keymint-ta/core/internal/protocol"
)

// HardwareAuthToken is the timestamp/challenge bundle a caller presents to
// prove user presence or to establish device-lock time without a local
// clock.
type HardwareAuthToken struct {
	Challenge       uint64
	UserID          uint64
	AuthenticatorID uint64
	AuthenticatorType uint32
	TimestampMs     uint64
	Mac             []byte
}

// hardwareAuthTokenMacInput renders a HardwareAuthToken to the byte-exact
// layout the MAC is computed over:
//
//	version(1B) | challenge(8B native) | user_id(8B native) |
//	authenticator_id(8B native) | authenticator_type(4B BE) | timestamp(8B BE)
//
// The native-endian fields are a documented quirk of the legacy protocol
// this TA interoperates with and must be preserved byte-for-byte; they are
// written with binary.NativeEndian, so the MAC input (and therefore the
// MAC) differs between little-endian and big-endian hosts.
func hardwareAuthTokenMacInput(tok HardwareAuthToken) []byte {
	buf := make([]byte, 1+8+8+8+4+8)
	buf[0] = 0
	binary.NativeEndian.PutUint64(buf[1:9], tok.Challenge)
	binary.NativeEndian.PutUint64(buf[9:17], tok.UserID)
	binary.NativeEndian.PutUint64(buf[17:25], tok.AuthenticatorID)
	binary.BigEndian.PutUint32(buf[25:29], tok.AuthenticatorType)
	binary.BigEndian.PutUint64(buf[29:37], tok.TimestampMs)
	return buf
}

// verifyHardwareAuthToken checks tok's MAC against the TA's negotiated
// HMAC key.
func (t *KeyMintTA) verifyHardwareAuthToken(tok HardwareAuthToken) error {
	key, ok := t.hmacKey.Get()
	if !ok {
		return taErr(protocol.ErrHardwareNotYetAvailable, "hmac key not yet negotiated")
	}
	want := t.collab.Hmac.Sum(key, hardwareAuthTokenMacInput(tok))
	if len(want) != len(tok.Mac) || !constantTimeEqual(want, tok.Mac) {
		return taErr(protocol.ErrVerificationFailed, "hardware auth token MAC mismatch")
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
