package ta

import (
	"context"

	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
	"github.com/keymint-ta/core/internal/wire"
)

// OpHandle is an opaque identifier for an in-flight cryptographic
// operation, unique within one boot.
type OpHandle uint64

// Operation is an in-flight cryptographic session. No bulk cipher
// transform (block-mode chaining, padding) runs in this core, and no
// cipher collaborator is wired in: Update and Finish return their input
// unchanged. Operation only tracks the bookkeeping the dispatcher is
// responsible for: which keyblob it was opened against, whether it
// requires user presence, and the accumulated additional authenticated
// data.
type Operation struct {
	Handle           OpHandle
	Purpose          keyblob.Purpose
	KeyID            KeyID
	PresenceRequired bool
	Material         keyblob.PlaintextKeyMaterial
	AAD              []byte
	Finished         bool
}

// KeyID is the HMAC-SHA256 tag over a keyblob's encoded bytes, computed
// with a fixed all-zero 16-byte key. It is stable across invocations
// within one boot and is used only to index the use-count table, never as
// a security boundary.
type KeyID [32]byte

func (t *KeyMintTA) computeKeyID(blobBytes []byte) KeyID {
	var zeroKey [16]byte
	sum := t.collab.Hmac.Sum(zeroKey[:], blobBytes)
	var id KeyID
	copy(id[:], sum)
	return id
}

// BeginOperation opens a new cryptographic operation against keyblobBytes
// for the given purpose, returning the handle the host will reference on
// subsequent Update/Finish/Abort calls.
//
// Steps mirror §4.5: decode+decrypt the keyblob, enforce use-count limits
// via the KeyId table, reject a second presence-required operation, then
// allocate the first free operation-table slot.
func (t *KeyMintTA) BeginOperation(ctx context.Context, blobBytes []byte, hidden []keyblob.KeyParam, purpose keyblob.Purpose, presenceRequired bool) (OpHandle, error) {
	ctx = ensureContext(ctx)

	blob, err := keyblob.Decode(blobBytes)
	if err != nil {
		return 0, err
	}
	rootOfTrust, err := t.rootOfTrustHidden()
	if err != nil {
		return 0, taErr(protocol.ErrHardwareNotYetAvailable, err.Error())
	}
	rootKey, err := t.rootKeyBytes()
	if err != nil {
		return 0, taErr(protocol.ErrUnknownError, err.Error())
	}
	material, err := keyblob.Decrypt(ctx, rootKey, blob, append(append([]keyblob.KeyParam{}, hidden...), rootOfTrust...), t.collab.SDD, t.securityLevel, t.currentVersionLike())
	if err != nil {
		return 0, err
	}

	keyID := t.computeKeyID(blobBytes)
	if limit, ok := usageCountLimit(blob.Characteristics); ok {
		if err := t.updateUseCount(keyID, limit); err != nil {
			return 0, err
		}
	}

	if presenceRequired && t.presenceRequired != nil {
		return 0, taErr(protocol.ErrConcurrentProofOfPresenceRequest, "a presence-required operation is already in flight")
	}

	slotIdx := -1
	for i, op := range t.operations {
		if op == nil {
			slotIdx = i
			break
		}
	}
	if slotIdx < 0 {
		return 0, taErr(protocol.ErrTooManyOperations, "operation table is full")
	}

	t.nextOpHandle++
	handle := t.nextOpHandle
	op := &Operation{
		Handle:           handle,
		Purpose:          purpose,
		KeyID:            keyID,
		PresenceRequired: presenceRequired,
		Material:         *material,
	}
	t.operations[slotIdx] = op
	if presenceRequired {
		h := handle
		t.presenceRequired = &h
	}
	return handle, nil
}

func usageCountLimit(chars []keyblob.KeyCharacteristics) (uint32, bool) {
	for _, c := range chars {
		for _, p := range c.Authorizations {
			if p.Tag == keyblob.TagUsageCountLimit {
				return p.UsageCountLimit, true
			}
		}
	}
	return 0, false
}

func (t *KeyMintTA) findOperation(handle OpHandle) (int, *Operation, error) {
	for i, op := range t.operations {
		if op != nil && op.Handle == handle {
			return i, op, nil
		}
	}
	return -1, nil, taErr(protocol.ErrInvalidOperationHandle, "unknown operation handle")
}

// UpdateAad appends additional authenticated data to an in-flight
// operation.
func (t *KeyMintTA) UpdateAad(handle OpHandle, aad []byte) error {
	_, op, err := t.findOperation(handle)
	if err != nil {
		return err
	}
	op.AAD = append(op.AAD, aad...)
	return nil
}

// Update feeds data into an in-flight operation. It only validates the
// handle and echoes data back unmodified; no bulk transform is applied.
func (t *KeyMintTA) Update(handle OpHandle, data []byte) ([]byte, error) {
	_, _, err := t.findOperation(handle)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Finish completes an operation, releasing its table slot (and the
// presence-required exclusivity, if it held it) whether or not the final
// transform succeeds.
func (t *KeyMintTA) Finish(handle OpHandle, data []byte) ([]byte, error) {
	idx, op, err := t.findOperation(handle)
	if err != nil {
		return nil, err
	}
	defer t.releaseOperation(idx)
	op.Finished = true
	return data, nil
}

// Abort discards an in-flight operation without producing output.
func (t *KeyMintTA) Abort(handle OpHandle) error {
	idx, _, err := t.findOperation(handle)
	if err != nil {
		return err
	}
	t.releaseOperation(idx)
	return nil
}

func (t *KeyMintTA) releaseOperation(idx int) {
	op := t.operations[idx]
	t.operations[idx] = nil
	if op == nil {
		return
	}
	if t.presenceRequired != nil && *t.presenceRequired == op.Handle {
		t.presenceRequired = nil
	}
}

// rootOfTrustBytes renders the latched BootInfo to the canonical byte
// sequence used as a hidden KEK input and as the GetRootOfTrust payload.
func (t *KeyMintTA) rootOfTrustBytes() ([]byte, error) {
	boot, ok := t.bootInfo.Get()
	if !ok {
		return nil, taErr(protocol.ErrHardwareNotYetAvailable, "boot info not yet latched")
	}
	return wire.Marshal(boot.RootOfTrustInfo)
}
