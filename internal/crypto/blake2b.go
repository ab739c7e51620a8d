package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// blake2bAEAD implements the "BLAKE2b variants" scheme family: AES-256-CTR
// for the cipher half, keyed BLAKE2b-256 (golang.org/x/crypto/blake2b) in
// place of HMAC-SHA256 for the MAC half. Envelope layout is identical in
// shape to SchemeCTRHMAC: scheme(1) | nonce(8) | ciphertext | tag(32).
type blake2bAEAD struct{}

const (
	blake2bNonceBytes = 8
	blake2bTagBytes   = 32
)

func (blake2bAEAD) Scheme() byte { return SchemeBlake2b }

func (blake2bAEAD) Seal(km *KeyMaterial, nonce uint64, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(km.EncKey[:])
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1+blake2bNonceBytes)
	header[0] = SchemeBlake2b
	binary.BigEndian.PutUint64(header[1:], nonce)

	iv := deriveIV(nonce, block.BlockSize())
	stream := cipher.NewCTR(block, iv)
	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)

	mac, err := blake2b.New256(km.EncHMACKey[:])
	if err != nil {
		return nil, err
	}
	mac.Write(header)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	out := make([]byte, 0, len(header)+len(ciphertext)+len(tag))
	out = append(out, header...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

func (blake2bAEAD) Open(km *KeyMaterial, envelope []byte) ([]byte, error) {
	headerLen := 1 + blake2bNonceBytes
	if len(envelope) < headerLen+blake2bTagBytes {
		return nil, ErrEnvelopeTooSmall
	}
	if envelope[0] != SchemeBlake2b {
		return nil, ErrUnknownScheme
	}
	header := envelope[:headerLen]
	ciphertext := envelope[headerLen : len(envelope)-blake2bTagBytes]
	tag := envelope[len(envelope)-blake2bTagBytes:]

	mac, err := blake2b.New256(km.EncHMACKey[:])
	if err != nil {
		return nil, err
	}
	mac.Write(header)
	mac.Write(ciphertext)
	want := mac.Sum(nil)
	if !hmac.Equal(want, tag) {
		return nil, ErrAuthFailed
	}

	nonce := binary.BigEndian.Uint64(header[1:])
	block, err := aes.NewCipher(km.EncKey[:])
	if err != nil {
		return nil, err
	}
	iv := deriveIV(nonce, block.BlockSize())
	stream := cipher.NewCTR(block, iv)
	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
