package ta

import (
	"bytes"
	"context"
	"testing"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
	"github.com/keymint-ta/core/internal/sdd"
	"github.com/keymint-ta/core/internal/wire"
)

func makeRequest(t *testing.T, opcode protocol.Opcode, payload any) ([]byte, error) {
	t.Helper()
	var payloadBytes wire.RawMessage
	if payload == nil {
		payloadBytes = wire.RawMessage{0x80}
	} else {
		data, err := wire.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = data
	}
	return wire.Marshal(protocol.Request{Opcode: opcode, Payload: payloadBytes})
}

func decodeResponse(data []byte) (protocol.Response, error) {
	var resp protocol.Response
	err := wire.Unmarshal(data, &resp)
	return resp, err
}

func newTestTA(t *testing.T) *KeyMintTA {
	t.Helper()
	rootKey := bytes.Repeat([]byte{0x11}, 32)
	ta := New(keyblob.SecurityLevelTrustedEnvironment, Collaborators{
		Rng:      cryptoimpl.SystemRng{},
		Clock:    cryptoimpl.SystemClock{},
		Hmac:     cryptoimpl.HmacSHA256{},
		RootKeys: cryptoimpl.NewStaticRootKeyProvider(rootKey),
		SDD:      sdd.NewInMemoryManager(0),
	})
	if err := ta.SetBootInfo(BootInfo{}); err != nil {
		t.Fatalf("SetBootInfo: %v", err)
	}
	if err := ta.SetHalInfo(HalInfo{}); err != nil {
		t.Fatalf("SetHalInfo: %v", err)
	}
	return ta
}

func sealTestKey(t *testing.T, ta *KeyMintTA, characteristics []keyblob.KeyCharacteristics) []byte {
	t.Helper()
	plaintext := keyblob.PlaintextKeyMaterial{Kind: keyblob.AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x01}, 32)}
	data, err := ta.sealKey(context.Background(), plaintext, characteristics, nil)
	if err != nil {
		t.Fatalf("sealKey: %v", err)
	}
	return data
}

func TestBootInfoLatchesOnce(t *testing.T) {
	ta := newTestTA(t)
	first, _ := ta.bootInfo.Get()

	if err := ta.SetBootInfo(BootInfo{BootPatchlevel: 99999999}); err != nil {
		t.Fatalf("second SetBootInfo returned error: %v", err)
	}
	second, _ := ta.bootInfo.Get()
	if second != first {
		t.Fatalf("boot info changed after second SetBootInfo: %+v vs %+v", first, second)
	}
}

func TestSetBootInfoIgnoredAfterEarlyBootEnded(t *testing.T) {
	ta := New(keyblob.SecurityLevelTrustedEnvironment, Collaborators{})
	if err := ta.EarlyBootEnded(); err != nil {
		t.Fatalf("EarlyBootEnded: %v", err)
	}
	if err := ta.SetBootInfo(BootInfo{BootPatchlevel: 1}); err != nil {
		t.Fatalf("SetBootInfo: %v", err)
	}
	if _, ok := ta.bootInfo.Get(); ok {
		t.Fatalf("expected boot info to remain unset after early boot ended")
	}
}

func TestUseCountEnforcement(t *testing.T) {
	ta := newTestTA(t)
	characteristics := []keyblob.KeyCharacteristics{
		{SecurityLevel: keyblob.SecurityLevelTrustedEnvironment, Authorizations: []keyblob.KeyParam{
			keyblob.UsageCountLimit(2),
		}},
	}
	blobBytes := sealTestKey(t, ta, characteristics)

	if _, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeEncrypt, false); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeEncrypt, false); err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	_, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeEncrypt, false)
	if classify(err) != protocol.ErrKeyMaxOpsExceeded {
		t.Fatalf("expected ErrKeyMaxOpsExceeded on third Begin, got %v", err)
	}
}

func TestPresenceRequiredExclusivity(t *testing.T) {
	ta := newTestTA(t)
	blobBytes := sealTestKey(t, ta, []keyblob.KeyCharacteristics{
		{SecurityLevel: keyblob.SecurityLevelTrustedEnvironment},
	})

	h1, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeSign, true)
	if err != nil {
		t.Fatalf("first presence-required Begin: %v", err)
	}

	_, err = ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeSign, true)
	if classify(err) != protocol.ErrConcurrentProofOfPresenceRequest {
		t.Fatalf("expected ErrConcurrentProofOfPresenceRequest, got %v", err)
	}

	if err := ta.Abort(h1); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeSign, true); err != nil {
		t.Fatalf("Begin after Abort should succeed, got %v", err)
	}
}

func TestOperationTableCapacity(t *testing.T) {
	ta := newTestTA(t)
	blobBytes := sealTestKey(t, ta, []keyblob.KeyCharacteristics{
		{SecurityLevel: keyblob.SecurityLevelTrustedEnvironment},
	})

	for i := 0; i < MaxTEEOperations; i++ {
		if _, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeEncrypt, false); err != nil {
			t.Fatalf("Begin %d: %v", i, err)
		}
	}
	_, err := ta.BeginOperation(context.Background(), blobBytes, nil, keyblob.PurposeEncrypt, false)
	if classify(err) != protocol.ErrTooManyOperations {
		t.Fatalf("expected ErrTooManyOperations once table is full, got %v", err)
	}
}

func TestUnknownOperationHandle(t *testing.T) {
	ta := newTestTA(t)
	if err := ta.Abort(OpHandle(9999)); classify(err) != protocol.ErrInvalidOperationHandle {
		t.Fatalf("expected ErrInvalidOperationHandle, got %v", err)
	}
}

func TestInvalidRequestFallback(t *testing.T) {
	ta := newTestTA(t)
	resp := ta.Process(context.Background(), []byte{0xFF})
	if !bytes.Equal(resp, protocol.InvalidRequestFallback) {
		t.Fatalf("expected invalid-request fallback, got %x", resp)
	}
}

func TestDispatchGetHardwareInfo(t *testing.T) {
	ta := newTestTA(t)
	req, err := makeRequest(t, protocol.OpDeviceGetHardwareInfo, nil)
	if err != nil {
		t.Fatalf("makeRequest: %v", err)
	}
	resp := ta.Process(context.Background(), req)

	decoded, err := decodeResponse(resp)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if decoded.ErrorCode != protocol.ErrOK {
		t.Fatalf("expected success, got error code %d", decoded.ErrorCode)
	}
}

func TestDispatchRootOfTrustRoleGating(t *testing.T) {
	ta := newTestTA(t)
	_, err := ta.GetRootOfTrustChallenge()
	if classify(err) != protocol.ErrUnimplemented {
		t.Fatalf("TEE instance should reject GetRootOfTrustChallenge, got %v", err)
	}
}

func TestDeviceLockedRequiresClockOrToken(t *testing.T) {
	ta := New(keyblob.SecurityLevelTrustedEnvironment, Collaborators{Hmac: cryptoimpl.HmacSHA256{}})
	err := ta.DeviceLocked(false, nil)
	if classify(err) != protocol.ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument with no clock and no token, got %v", err)
	}
}
