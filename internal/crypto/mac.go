package crypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"snapvault/internal/segment"
)

// keyedMAC computes HMAC-SHA256(key, data) and returns it as an
// segment.ObjectID (HMAC-SHA256 already produces exactly 32 bytes, so no
// truncation is needed for a 32-byte object id.
func keyedMAC(key, data []byte) segment.ObjectID {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out segment.ObjectID
	copy(out[:], mac.Sum(nil))
	return out
}
