package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// chacha20Poly1305AEAD wraps golang.org/x/crypto/chacha20poly1305. Envelope
// layout: scheme(1) | nonce(12) | ciphertext+tag (chacha20poly1305.Seal
// appends its own 16-byte tag to the ciphertext). The scheme byte and
// nonce together form the additional authenticated data.
type chacha20Poly1305AEAD struct{}

func (chacha20Poly1305AEAD) Scheme() byte { return SchemeChaCha20Poly1305 }

func (chacha20Poly1305AEAD) Seal(km *KeyMaterial, nonce uint64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(km.EncKey[:])
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1+chacha20poly1305.NonceSize)
	header[0] = SchemeChaCha20Poly1305
	nonceBytes := header[1:]
	binary.BigEndian.PutUint64(nonceBytes[chacha20poly1305.NonceSize-8:], nonce)

	sealed := aead.Seal(nil, nonceBytes, plaintext, header)
	out := make([]byte, 0, len(header)+len(sealed))
	out = append(out, header...)
	out = append(out, sealed...)
	return out, nil
}

func (chacha20Poly1305AEAD) Open(km *KeyMaterial, envelope []byte) ([]byte, error) {
	headerLen := 1 + chacha20poly1305.NonceSize
	if len(envelope) < headerLen+chacha20poly1305.Overhead {
		return nil, ErrEnvelopeTooSmall
	}
	if envelope[0] != SchemeChaCha20Poly1305 {
		return nil, ErrUnknownScheme
	}
	header := envelope[:headerLen]
	sealed := envelope[headerLen:]

	aead, err := chacha20poly1305.New(km.EncKey[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, header[1:], sealed, header)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
