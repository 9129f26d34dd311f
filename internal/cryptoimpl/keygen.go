package cryptoimpl

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// Algorithm kind values mirror internal/keyblob.Algorithm without importing
// it, keeping this package's dependency graph one-directional (ta depends
// on cryptoimpl, not the reverse).
const (
	algAES        = 0
	algEC         = 1
	algRSA        = 2
	algHMAC       = 3
	algTripleDES  = 4
)

// SoftwareKeyGenerator is a reference KeyGenerator backed by crypto/rand,
// crypto/ecdsa, and crypto/rsa. A hardware-backed build generates key
// material inside the TEE instead and never constructs this type.
type SoftwareKeyGenerator struct{}

func (SoftwareKeyGenerator) Generate(kind int32, keySizeBits uint32) (symmetricKey, pkcs8 []byte, err error) {
	switch kind {
	case algAES, algHMAC, algTripleDES:
		if keySizeBits == 0 {
			keySizeBits = 256
		}
		key := make([]byte, keySizeBits/8)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, fmt.Errorf("cryptoimpl: generating symmetric key: %w", err)
		}
		return key, nil, nil

	case algEC:
		curve := elliptic.P256()
		if keySizeBits >= 384 {
			curve = elliptic.P384()
		}
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("cryptoimpl: generating EC key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, nil, fmt.Errorf("cryptoimpl: marshaling EC key: %w", err)
		}
		return nil, der, nil

	case algRSA:
		if keySizeBits == 0 {
			keySizeBits = 2048
		}
		priv, err := rsa.GenerateKey(rand.Reader, int(keySizeBits))
		if err != nil {
			return nil, nil, fmt.Errorf("cryptoimpl: generating RSA key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, nil, fmt.Errorf("cryptoimpl: marshaling RSA key: %w", err)
		}
		return nil, der, nil

	default:
		return nil, nil, fmt.Errorf("cryptoimpl: unsupported algorithm kind %d", kind)
	}
}

// SoftwareSkWrapper unwraps an ImportWrappedKey description with
// AES-256-GCM under the already-unsealed wrapping key, with a zero nonce
// and the wrapping key's own bytes as the AEAD key. wrappedKeyDescription
// is ciphertext||tag, matching the layout a caller producing it with the
// same primitive would use.
type SoftwareSkWrapper struct{}

func (SoftwareSkWrapper) Unwrap(wrappingKeyMaterial, wrappedKeyDescription []byte) ([]byte, error) {
	block, err := aes.NewCipher(wrappingKeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("cryptoimpl: wrapping key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoimpl: constructing AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, wrappedKeyDescription, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoimpl: unwrapping failed: %w", err)
	}
	return plaintext, nil
}

// EphemeralWrap re-wraps storage-key material under a freshly generated
// AES-256-GCM ephemeral key, returning nonce||ciphertext||tag. A hardware
// build tracks the ephemeral key itself inside the TEE and hands the host
// only the wrapped blob; this software reference discards it after
// sealing, since nothing on this build path ever needs to unwrap it again.
func (SoftwareSkWrapper) EphemeralWrap(storageKeyMaterial []byte) ([]byte, error) {
	ephemeralKey := make([]byte, 32)
	if _, err := rand.Read(ephemeralKey); err != nil {
		return nil, fmt.Errorf("cryptoimpl: generating ephemeral key: %w", err)
	}
	block, err := aes.NewCipher(ephemeralKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoimpl: ephemeral key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoimpl: constructing AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptoimpl: generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, storageKeyMaterial, nil), nil
}
