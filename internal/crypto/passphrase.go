package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Wrapping parameters: PBKDF2-HMAC-SHA256, random 32-byte
// salt, at least 100,000 iterations.
const (
	pbkdf2SaltBytes  = 32
	pbkdf2Iterations = 100_000
	pbkdf2KeyBytes   = 32 // AES-256 key
)

// WrapPassphrase serializes km and encrypts it under a key derived from
// passphrase via PBKDF2-HMAC-SHA256, returning a delimited PHC-style
// string carrying the algorithm parameters, salt, and payload — the same
// encoding idiom as a PHC-string password hash
// ($pbkdf2-sha256$i=<iters>$<salt>$<payload>), with PBKDF2 substituted for
// argon2id; PBKDF2-HMAC-SHA256 is the fixed choice here.
func WrapPassphrase(passphrase string, km *KeyMaterial) (string, error) {
	salt := make([]byte, pbkdf2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, pbkdf2KeyBytes, sha256.New)

	plain := serializeKeyMaterial(km)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize) // safe to reuse: derived key is unique per salt
	ciphertext := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plain)

	mac := hmac.New(sha256.New, derived)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	payload := append(append([]byte{}, ciphertext...), tag...)
	return fmt.Sprintf("$pbkdf2-sha256$i=%d$%s$%s",
		pbkdf2Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(payload),
	), nil
}

// UnwrapPassphrase reverses WrapPassphrase, returning ErrPassphraseWrong if
// the candidate passphrase fails to authenticate the blob.
func UnwrapPassphrase(passphrase, encoded string) (*KeyMaterial, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[1] != "pbkdf2-sha256" {
		return nil, fmt.Errorf("crypto: invalid wrapped key format")
	}
	var iterations int
	if _, err := fmt.Sscanf(parts[2], "i=%d", &iterations); err != nil {
		return nil, fmt.Errorf("crypto: parse iterations: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	payload, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("crypto: decode payload: %w", err)
	}
	if len(payload) < sha256.Size {
		return nil, ErrPassphraseWrong
	}
	ciphertext := payload[:len(payload)-sha256.Size]
	tag := payload[len(payload)-sha256.Size:]

	derived := pbkdf2.Key([]byte(passphrase), salt, iterations, pbkdf2KeyBytes, sha256.New)

	mac := hmac.New(sha256.New, derived)
	mac.Write(ciphertext)
	want := mac.Sum(nil)
	if !hmac.Equal(want, tag) {
		return nil, ErrPassphraseWrong
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	plain := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plain, ciphertext)

	return deserializeKeyMaterial(plain)
}

// serializeKeyMaterial packs the fields an operator must be able to
// recover from a passphrase: the three keys, the chunker seed, the
// repository id, and the tam_required flag. The nonce counter is not part
// of the wrapped blob; it is tracked separately in the cache's security
// bucket, since it must survive independently of key rotation.
func serializeKeyMaterial(km *KeyMaterial) []byte {
	buf := &bytes.Buffer{}
	buf.Write(km.EncKey[:])
	buf.Write(km.EncHMACKey[:])
	buf.Write(km.IDKey[:])
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], km.ChunkSeed)
	buf.Write(seedBuf[:])
	buf.Write(km.RepositoryID[:])
	if km.TAMRequired {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

const serializedKeyMaterialLen = 32 + 32 + 32 + 4 + 16 + 1

func deserializeKeyMaterial(buf []byte) (*KeyMaterial, error) {
	if len(buf) != serializedKeyMaterialLen {
		return nil, ErrPassphraseWrong
	}
	km := &KeyMaterial{}
	off := 0
	copy(km.EncKey[:], buf[off:off+32])
	off += 32
	copy(km.EncHMACKey[:], buf[off:off+32])
	off += 32
	copy(km.IDKey[:], buf[off:off+32])
	off += 32
	km.ChunkSeed = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	copy(km.RepositoryID[:], buf[off:off+16])
	off += 16
	km.TAMRequired = buf[off] != 0
	return km, nil
}

// FormatRepositoryID renders a repository id as lowercase hex, as used in
// keyfile headers and security directory names.
func FormatRepositoryID(id [16]byte) string {
	return hexEncode(id[:])
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0F]
	}
	return string(out)
}
