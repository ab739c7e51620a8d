// Package crypto implements the repository's AEAD envelope encryption,
// chunk-id derivation, and passphrase-based key wrapping.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrPassphraseWrong is returned when a wrapped key blob fails to
// authenticate under a candidate passphrase.
var ErrPassphraseWrong = errors.New("crypto: passphrase wrong or key blob corrupt")

// KeyMaterial holds everything derived from a repository's master key:
// the symmetric encryption key, the MAC key used for the AEAD's HMAC half
// (schemes that need one), the keyed MAC used to derive chunk ids, the
// chunker's per-repository seed, the repository id, and the tam_required
// policy flag.
type KeyMaterial struct {
	EncKey       [32]byte
	EncHMACKey   [32]byte
	IDKey        [32]byte
	ChunkSeed    uint32
	RepositoryID [16]byte
	TAMRequired  bool

	// nonce is the monotonically increasing per-process nonce counter.
	// It must never repeat for a given EncKey; see NextNonce.
	nonce uint64
}

// Generate creates fresh random key material for a new repository.
func Generate(tamRequired bool) (*KeyMaterial, error) {
	km := &KeyMaterial{TAMRequired: tamRequired}
	for _, b := range [][]byte{km.EncKey[:], km.EncHMACKey[:], km.IDKey[:], km.RepositoryID[:]} {
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("crypto: generate key material: %w", err)
		}
	}
	var seedBuf [4]byte
	if _, err := rand.Read(seedBuf[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate chunk seed: %w", err)
	}
	km.ChunkSeed = binary.LittleEndian.Uint32(seedBuf[:])
	return km, nil
}

// SetNonceFloor advances the nonce counter to at least floor, used on
// reopen once the counter persisted on disk and the highest nonce observed
// in segment scans have both been consulted — the nonce policy from
// advanced to max(persisted, max_observed) + margin.
func (km *KeyMaterial) SetNonceFloor(floor uint64) {
	for {
		cur := atomic.LoadUint64(&km.nonce)
		if cur >= floor {
			return
		}
		if atomic.CompareAndSwapUint64(&km.nonce, cur, floor) {
			return
		}
	}
}

// NextNonce returns the next strictly increasing nonce value. The counter
// starts at zero for each KeyMaterial and is not written to disk, so
// values repeat across processes.
func (km *KeyMaterial) NextNonce() uint64 {
	return atomic.AddUint64(&km.nonce, 1) - 1
}

// CurrentNonce returns the counter's current value without advancing it,
// for persistence.
func (km *KeyMaterial) CurrentNonce() uint64 {
	return atomic.LoadUint64(&km.nonce)
}
