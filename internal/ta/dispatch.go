package ta

import (
	"context"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
)

// Process decodes one framed request, dispatches it to the matching
// handler, and returns the framed response bytes. It never panics: any
// error in the outer envelope decode falls back to
// protocol.InvalidRequestFallback without invoking the codec again on the
// offending bytes, and every handler error is converted to a well-formed
// error response rather than propagated to the caller.
func (t *KeyMintTA) Process(ctx context.Context, requestBytes []byte) []byte {
	ctx = ensureContext(ctx)

	req, err := protocol.DecodeRequest(requestBytes)
	if err != nil {
		return protocol.InvalidRequestFallback
	}

	payload, err := t.dispatch(ctx, req)
	if err != nil {
		return protocol.EncodeError(classify(err))
	}
	resp, err := protocol.EncodeSuccess(payload)
	if err != nil {
		return protocol.EncodeError(protocol.ErrUnknownError)
	}
	return resp
}

func (t *KeyMintTA) dispatch(ctx context.Context, req protocol.Request) (any, error) {
	switch req.Opcode {
	case protocol.OpSetBootInfo:
		var p BootInfo
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.SetBootInfo(p)

	case protocol.OpSetHalInfo:
		var p HalInfo
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.SetHalInfo(p)

	case protocol.OpSetAttestationIds:
		var p attestationIDsPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.SetAttestationIds(p.toDomain())

	case protocol.OpDestroyAttestationIds:
		return nil, t.DestroyAttestationIds()

	case protocol.OpSharedSecretGetParameters:
		params, ok := t.sharedSecretParams.Get()
		if !ok {
			return nil, taErr(protocol.ErrHardwareNotYetAvailable, "shared secret params not yet negotiated")
		}
		return params, nil

	case protocol.OpSharedSecretComputeSharedSecret:
		var p SharedSecretParams
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.SetSharedSecretParams(p)

	case protocol.OpSecureClockGenerateTimeStamp:
		if t.collab.Clock == nil {
			return nil, taErr(protocol.ErrUnimplemented, "no clock configured")
		}
		return t.collab.Clock.Now().UnixMilli(), nil

	case protocol.OpDeviceGetHardwareInfo:
		return t.GetHardwareInfo(), nil

	case protocol.OpDeviceAddRngEntropy:
		var p []byte
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.AddRngEntropy(p)

	case protocol.OpDeviceGenerateKey:
		var p generateKeyPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.GenerateKey(ctx, p.Characteristics, p.Hidden)

	case protocol.OpDeviceImportKey:
		var p importKeyPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.ImportKey(ctx, p.Plaintext, p.Characteristics, p.Hidden)

	case protocol.OpDeviceImportWrappedKey:
		var p importWrappedKeyPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.ImportWrappedKey(ctx, p.WrappingKeyBlob, p.WrappedKeyDescription, p.Hidden, p.Characteristics)

	case protocol.OpDeviceUpgradeKey:
		var p upgradeKeyPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.UpgradeKey(ctx, p.KeyBlob, p.Hidden)

	case protocol.OpDeviceDeleteKey:
		var p []byte
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.DeleteKey(ctx, p)

	case protocol.OpDeviceDeleteAllKeys:
		return nil, t.DeleteAllKeys(ctx)

	case protocol.OpDeviceDeviceLocked:
		var p deviceLockedPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.DeviceLocked(p.PasswordOnly, p.Token)

	case protocol.OpDeviceEarlyBootEnded:
		return nil, t.EarlyBootEnded()

	case protocol.OpDeviceConvertStorageKeyToEphemeral:
		var p []byte
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.ConvertStorageKeyToEphemeral(p)

	case protocol.OpDeviceGetKeyCharacteristics:
		var p []byte
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.GetKeyCharacteristics(p)

	case protocol.OpGetRootOfTrustChallenge:
		return t.GetRootOfTrustChallenge()

	case protocol.OpGetRootOfTrust:
		return t.GetRootOfTrust()

	case protocol.OpSendRootOfTrust:
		var p []byte
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.SendRootOfTrust(p)

	case protocol.OpBegin:
		var p beginPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.BeginOperation(ctx, p.KeyBlob, p.Hidden, p.Purpose, p.PresenceRequired)

	case protocol.OpOperationUpdateAad:
		var p opDataPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.UpdateAad(p.Handle, p.Data)

	case protocol.OpOperationUpdate:
		var p opDataPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.Update(p.Handle, p.Data)

	case protocol.OpOperationFinish:
		var p opDataPayload
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return t.Finish(p.Handle, p.Data)

	case protocol.OpOperationAbort:
		var p OpHandle
		if err := protocol.DecodePayload(req, &p); err != nil {
			return nil, taErr(protocol.ErrInvalidArgument, err.Error())
		}
		return nil, t.Abort(p)

	case protocol.OpRpcGetHardwareInfo:
		return t.RpcGetHardwareInfo(), nil

	case protocol.OpRpcGenerateEcdsaP256KeyPair:
		pub, priv, err := t.GenerateEcdsaP256KeyPair()
		if err != nil {
			return nil, err
		}
		return [][]byte{pub, priv}, nil

	case protocol.OpRpcGenerateCertificateRequest:
		return t.GenerateCertificateRequest()

	case protocol.OpRpcGenerateCertificateRequestV2:
		return t.GenerateCertificateRequestV2()

	default:
		return nil, taErr(protocol.ErrUnimplemented, "unknown opcode")
	}
}

// Payload shapes used only at the dispatch boundary; they exist to give
// each opcode's wire-level request a concrete Go type distinct from the
// domain types in internal/keyblob, which never carry framing concerns.

type attestationIDsPayload struct {
	_            struct{} `cbor:",toarray"`
	Brand        []byte
	Device       []byte
	Product      []byte
	Serial       []byte
	IMEI         []byte
	MEID         []byte
	Manufacturer []byte
	Model        []byte
}

type generateKeyPayload struct {
	_               struct{} `cbor:",toarray"`
	Characteristics []keyblob.KeyCharacteristics
	Hidden          []keyblob.KeyParam
}

type importKeyPayload struct {
	_               struct{} `cbor:",toarray"`
	Plaintext       keyblob.PlaintextKeyMaterial
	Characteristics []keyblob.KeyCharacteristics
	Hidden          []keyblob.KeyParam
}

type importWrappedKeyPayload struct {
	_                      struct{} `cbor:",toarray"`
	WrappingKeyBlob        []byte
	WrappedKeyDescription  []byte
	Hidden                 []keyblob.KeyParam
	Characteristics        []keyblob.KeyCharacteristics
}

type upgradeKeyPayload struct {
	_       struct{} `cbor:",toarray"`
	KeyBlob []byte
	Hidden  []keyblob.KeyParam
}

type deviceLockedPayload struct {
	_            struct{} `cbor:",toarray"`
	PasswordOnly bool
	Token        *HardwareAuthToken
}

type beginPayload struct {
	_                struct{} `cbor:",toarray"`
	KeyBlob          []byte
	Hidden           []keyblob.KeyParam
	Purpose          keyblob.Purpose
	PresenceRequired bool
}

type opDataPayload struct {
	_      struct{} `cbor:",toarray"`
	Handle OpHandle
	Data   []byte
}

func (p attestationIDsPayload) toDomain() cryptoimpl.AttestationIDs {
	return cryptoimpl.AttestationIDs{
		Brand: p.Brand, Device: p.Device, Product: p.Product, Serial: p.Serial,
		IMEI: p.IMEI, MEID: p.MEID, Manufacturer: p.Manufacturer, Model: p.Model,
	}
}
