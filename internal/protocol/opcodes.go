// Package protocol defines the framed request/response envelope and the
// stable opcode/error-code enumerations the TA dispatcher (internal/ta)
// operates over.
package protocol

// Opcode identifies a PerformOpReq/PerformOpResponse variant. Values are
// part of the wire contract and must never be renumbered once shipped.
type Opcode int32

const (
	OpSetBootInfo Opcode = iota + 1
	OpSetHalInfo
	OpSetAttestationIds
	OpDestroyAttestationIds

	OpSharedSecretGetParameters
	OpSharedSecretComputeSharedSecret

	OpSecureClockGenerateTimeStamp

	OpDeviceGetHardwareInfo
	OpDeviceAddRngEntropy
	OpDeviceGenerateKey
	OpDeviceImportKey
	OpDeviceImportWrappedKey
	OpDeviceUpgradeKey
	OpDeviceDeleteKey
	OpDeviceDeleteAllKeys
	OpDeviceDeviceLocked
	OpDeviceEarlyBootEnded
	OpDeviceConvertStorageKeyToEphemeral
	OpDeviceGetKeyCharacteristics

	OpGetRootOfTrustChallenge
	OpGetRootOfTrust
	OpSendRootOfTrust

	OpOperationUpdateAad
	OpOperationUpdate
	OpOperationFinish
	OpOperationAbort
	OpBegin

	OpRpcGetHardwareInfo
	OpRpcGenerateEcdsaP256KeyPair
	OpRpcGenerateCertificateRequest
	OpRpcGenerateCertificateRequestV2
)

// ErrorCode is the stable numeric error taxonomy returned in every
// unsuccessful response. Zero denotes success.
type ErrorCode int32

const (
	ErrOK ErrorCode = 0

	ErrInvalidKeyBlob                   ErrorCode = -20
	ErrInvalidArgument                  ErrorCode = -38
	ErrInvalidInputLength               ErrorCode = -21
	ErrUnsupportedTag                   ErrorCode = -22
	ErrIncompatiblePurpose              ErrorCode = -31
	ErrKeyMaxOpsExceeded                ErrorCode = -32
	ErrTooManyOperations                ErrorCode = -33
	ErrKeyRequiresUpgrade               ErrorCode = -34
	ErrRollbackResistanceUnavailable    ErrorCode = -35
	ErrConcurrentProofOfPresenceRequest ErrorCode = -36
	ErrVerificationFailed               ErrorCode = -37
	ErrUnknownError                     ErrorCode = -1000
	ErrUnimplemented                    ErrorCode = -100
	ErrHardwareNotYetAvailable          ErrorCode = -101
	ErrInvalidOperationHandle            ErrorCode = -102

	ErrUnsupportedPurpose   ErrorCode = -200
	ErrUnsupportedAlgorithm ErrorCode = -201
	ErrUnsupportedBlockMode ErrorCode = -202
	ErrUnsupportedPadding   ErrorCode = -203
	ErrUnsupportedDigest    ErrorCode = -204
	ErrUnsupportedKeyFormat ErrorCode = -205
	ErrUnsupportedEcCurve   ErrorCode = -206
)

// InvalidRequestFallback is returned verbatim, without invoking the codec
// at all, whenever the outer request envelope fails to decode. It is the
// canonical encoding of a tagged array `(-1000, [])` — see §6 of the
// design for its fixed byte value.
var InvalidRequestFallback = []byte{0x82, 0x39, 0x03, 0xe7, 0x80}
