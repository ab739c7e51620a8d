package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"snapvault/internal/segment"
)

// Scheme byte values: the leading byte of every stored envelope selects
// how the rest of it is interpreted.
const (
	SchemeNone              byte = 0
	SchemeCTRHMAC           byte = 1
	SchemeOCB               byte = 2 // recorded, never selectable — see ErrOCBUnsupported
	SchemeChaCha20Poly1305  byte = 3
	SchemeBlake2b           byte = 4
)

// ErrOCBUnsupported is returned for SchemeOCB: AES-256-OCB has no
// maintained Go implementation in the dependency set this module draws
// from (nor in the standard library), so rather than approximate it under
// the same wire-format byte with a different construction, envelopes
// tagged SchemeOCB are rejected outright. New repositories default to
// SchemeCTRHMAC instead.
var ErrOCBUnsupported = errors.New("crypto: AES-256-OCB is not supported by this build")

var (
	ErrUnknownScheme  = errors.New("crypto: unknown encryption scheme byte")
	ErrEnvelopeTooSmall = errors.New("crypto: envelope too small for its scheme")
	ErrAuthFailed     = errors.New("crypto: AEAD authentication failed")
)

// AEAD encrypts and authenticates one chunk's plaintext into a
// self-describing envelope, and reverses the operation on read.
type AEAD interface {
	// Scheme returns this codec's leading type byte.
	Scheme() byte
	// Seal encrypts plaintext into an envelope using nonce, which the
	// caller must never reuse for the same key.
	Seal(km *KeyMaterial, nonce uint64, plaintext []byte) ([]byte, error)
	// Open authenticates and decrypts envelope, returning the plaintext.
	Open(km *KeyMaterial, envelope []byte) ([]byte, error)
}

// ByScheme returns the AEAD implementation for a scheme byte.
func ByScheme(scheme byte) (AEAD, error) {
	switch scheme {
	case SchemeNone:
		return noneAEAD{}, nil
	case SchemeCTRHMAC:
		return ctrHMACAEAD{}, nil
	case SchemeOCB:
		return nil, ErrOCBUnsupported
	case SchemeChaCha20Poly1305:
		return chacha20Poly1305AEAD{}, nil
	case SchemeBlake2b:
		return blake2bAEAD{}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownScheme, scheme)
	}
}

// Seal is a convenience wrapper: look up the scheme and seal in one call.
func Seal(scheme byte, km *KeyMaterial, nonce uint64, plaintext []byte) ([]byte, error) {
	aead, err := ByScheme(scheme)
	if err != nil {
		return nil, err
	}
	return aead.Seal(km, nonce, plaintext)
}

// Open dispatches on envelope[0] and opens it.
func Open(km *KeyMaterial, envelope []byte) ([]byte, error) {
	if len(envelope) < 1 {
		return nil, ErrEnvelopeTooSmall
	}
	aead, err := ByScheme(envelope[0])
	if err != nil {
		return nil, err
	}
	return aead.Open(km, envelope)
}

// ComputeID derives an object id from plaintext: MAC(id_key, plaintext)
// for encrypted schemes, or SHA-256(plaintext) for SchemeNone.
// The id is stable across re-encryption because it
// depends only on the plaintext and the id key, never on the ciphertext,
// nonce, or scheme used to store it.
func ComputeID(scheme byte, km *KeyMaterial, plaintext []byte) (segment.ObjectID, error) {
	if scheme == SchemeNone {
		sum := sha256.Sum256(plaintext)
		return segment.ObjectID(sum), nil
	}
	return keyedMAC(km.IDKey[:], plaintext), nil
}

// noneAEAD implements the unencrypted scheme: the envelope is the scheme
// byte followed by the plaintext verbatim. Selected with
// --encryption-scheme=none.
type noneAEAD struct{}

func (noneAEAD) Scheme() byte { return SchemeNone }

func (noneAEAD) Seal(_ *KeyMaterial, _ uint64, plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+len(plaintext))
	out[0] = SchemeNone
	copy(out[1:], plaintext)
	return out, nil
}

func (noneAEAD) Open(_ *KeyMaterial, envelope []byte) ([]byte, error) {
	if len(envelope) < 1 || envelope[0] != SchemeNone {
		return nil, ErrUnknownScheme
	}
	out := make([]byte, len(envelope)-1)
	copy(out, envelope[1:])
	return out, nil
}
