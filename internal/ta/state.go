// Package ta implements the TA dispatcher and state machine (C5): the
// single-threaded, cooperative operation-oriented server that consumes
// framed requests, enforces the start-of-day latching invariants, tracks
// bounded parallel operations and per-key usage counts, and orchestrates
// policy checks on every call.
package ta

import (
	"context"
	"fmt"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/sdd"
	"github.com/keymint-ta/core/internal/wire"
)

const (
	// MaxTEEOperations is the operation table capacity for a TEE-level TA.
	MaxTEEOperations = 32
	// MaxStrongBoxOperations is the operation table capacity for a
	// StrongBox-level TA — tighter because StrongBox hardware is more
	// resource-constrained.
	MaxStrongBoxOperations = 4
	// MaxUseCountedKeys bounds the use-count tracking table regardless of
	// security level.
	MaxUseCountedKeys = 32
	// MaxRngEntropyBytes is the largest AddRngEntropy payload accepted.
	MaxRngEntropyBytes = 2048
)

// Collaborators bundles every external dependency the core is polymorphic
// over: entropy, time, device identity, root-key access, and secure
// deletion storage. None of these are implemented by this package; it only
// consumes the interfaces.
type Collaborators struct {
	Rng            cryptoimpl.Rng
	Clock          cryptoimpl.Clock
	Hmac           cryptoimpl.Hmac
	RootKeys       cryptoimpl.RootKeyProvider
	AttestationIDs cryptoimpl.AttestationIDStore
	SDD            sdd.Manager
	SkWrapper      cryptoimpl.SkWrapper
	KeyGen         cryptoimpl.KeyGenerator
}

// AttestationChainInfo is a certificate chain and issuer name for a given
// signing key type. KeyMintTA keeps a map of these (attestationChains),
// but nothing in this package fetches a chain or reads or fills the map.
type AttestationChainInfo struct {
	Chain  [][]byte
	Issuer []byte
}

// KeyMintTA is the singleton mutable core. All state lives here; there is
// no shared ownership across calls, and nothing in this struct is ever
// accessed concurrently — callers with multiple transport connections must
// serialize at the request boundary (see cmd/serve.go).
type KeyMintTA struct {
	securityLevel keyblob.SecurityLevel
	collab        Collaborators

	inEarlyBoot bool

	bootInfo           wire.Latch[BootInfo]
	halInfo            wire.Latch[HalInfo]
	hmacKey            wire.Latch[[]byte]
	sharedSecretParams wire.Latch[SharedSecretParams]

	operations       []*Operation
	presenceRequired *OpHandle
	nextOpHandle     OpHandle

	useCounts []*UseCount

	attestationChains map[keyblob.Algorithm]AttestationChainInfo

	deviceLock LockState
}

// New constructs a KeyMintTA for the given security level. in_early_boot is
// true on construction and monotonically transitions to false via
// EarlyBootEnded, matching the invariant in the data model.
func New(level keyblob.SecurityLevel, collab Collaborators) *KeyMintTA {
	capacity := MaxTEEOperations
	if level == keyblob.SecurityLevelStrongbox {
		capacity = MaxStrongBoxOperations
	}
	return &KeyMintTA{
		securityLevel:     level,
		collab:            collab,
		inEarlyBoot:       true,
		operations:        make([]*Operation, capacity),
		useCounts:         make([]*UseCount, MaxUseCountedKeys),
		attestationChains: make(map[keyblob.Algorithm]AttestationChainInfo),
		deviceLock:        LockState{Kind: LockUnlocked},
	}
}

// SecurityLevel reports which tier this TA instance is configured as.
func (t *KeyMintTA) SecurityLevel() keyblob.SecurityLevel { return t.securityLevel }

func (t *KeyMintTA) isStrongBox() bool {
	return t.securityLevel == keyblob.SecurityLevelStrongbox
}

// rootKeyBytes fetches the device root key used for keyblob sealing,
// wrapping provider errors as UnknownError at the caller's discretion.
func (t *KeyMintTA) rootKeyBytes() ([]byte, error) {
	if t.collab.RootKeys == nil {
		return nil, fmt.Errorf("ta: no root key provider configured")
	}
	return t.collab.RootKeys.RootKey()
}

func (t *KeyMintTA) currentVersionLike() *keyblob.VersionLikeAuthorizations {
	hal, ok := t.halInfo.Get()
	if !ok {
		return nil
	}
	boot, bootOK := t.bootInfo.Get()
	v := &keyblob.VersionLikeAuthorizations{
		OsVersion:    hal.OsVersion,
		OsPatchlevel: hal.OsPatchlevel,
		VendorPatchlevel: hal.VendorPatchlevel,
	}
	if bootOK {
		v.BootPatchlevel = boot.BootPatchlevel
	}
	return v
}

// rootOfTrustHidden renders the latched RootOfTrustInfo into the
// hidden-parameter set mixed into every KEK derivation (attestation IDs
// are not included), so a keyblob can never be opened on a device with a
// different verified-boot state.
func (t *KeyMintTA) rootOfTrustHidden() ([]keyblob.KeyParam, error) {
	boot, ok := t.bootInfo.Get()
	if !ok {
		return nil, fmt.Errorf("ta: boot info not yet latched")
	}
	data, err := wire.Marshal(boot.RootOfTrustInfo)
	if err != nil {
		return nil, fmt.Errorf("ta: encoding root of trust: %w", err)
	}
	return []keyblob.KeyParam{{Tag: keyblob.TagApplicationData, ApplicationData: data}}, nil
}

// ensureContext is a small helper so every handler can take a context even
// though nothing in this single-threaded core actually blocks on it other
// than the SDD manager collaborator.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
