package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// ctrHMACAEAD implements AES-256-CTR + HMAC-SHA256 (encrypt-then-MAC), the
// default encrypted scheme. Envelope layout:
//
//	scheme(1) | nonce(8) | ciphertext(len(plaintext)) | tag(32)
//
// The additional authenticated data is the header (scheme byte + nonce);
// the tag authenticates header || ciphertext.
type ctrHMACAEAD struct{}

const (
	ctrHMACNonceBytes = 8
	ctrHMACTagBytes   = 32
)

func (ctrHMACAEAD) Scheme() byte { return SchemeCTRHMAC }

func (ctrHMACAEAD) Seal(km *KeyMaterial, nonce uint64, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(km.EncKey[:])
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1+ctrHMACNonceBytes)
	header[0] = SchemeCTRHMAC
	binary.BigEndian.PutUint64(header[1:], nonce)

	iv := deriveIV(nonce, block.BlockSize())
	stream := cipher.NewCTR(block, iv)
	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)

	mac := hmac.New(sha256.New, km.EncHMACKey[:])
	mac.Write(header)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	out := make([]byte, 0, len(header)+len(ciphertext)+len(tag))
	out = append(out, header...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

func (ctrHMACAEAD) Open(km *KeyMaterial, envelope []byte) ([]byte, error) {
	headerLen := 1 + ctrHMACNonceBytes
	if len(envelope) < headerLen+ctrHMACTagBytes {
		return nil, ErrEnvelopeTooSmall
	}
	if envelope[0] != SchemeCTRHMAC {
		return nil, ErrUnknownScheme
	}
	header := envelope[:headerLen]
	ciphertext := envelope[headerLen : len(envelope)-ctrHMACTagBytes]
	tag := envelope[len(envelope)-ctrHMACTagBytes:]

	mac := hmac.New(sha256.New, km.EncHMACKey[:])
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

// deriveIV expands a 64-bit nonce into a block-size IV by placing it in the
// low bytes and zero-padding the high bytes, giving CTR mode a full-width
// counter block while keeping the on-disk nonce compact.
func deriveIV(nonce uint64, blockSize int) []byte {
	iv := make([]byte, blockSize)
	binary.BigEndian.PutUint64(iv[blockSize-8:], nonce)
	return iv
}
