// Package archive implements the repository manifest, per-archive
// metadata dict, and the self-describing item stream that records
// directory entries and chunk lists for each archive, following the
// fluentfwd ingester's decoder-driven msgpack idiom generalized from
// network frames to chunk-framed records.
package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"snapvault/internal/segment"
)

// ManifestID is the well-known all-zero object id the manifest is
// always stored at.
var ManifestID segment.ObjectID

// ArchiveRef is one row of the manifest's archives table.
type ArchiveRef struct {
	ID        segment.ObjectID
	Timestamp time.Time
}

// Manifest is the single top-level object enumerating all archives in
// a repository, plus the config dict (tam_required and friends).
type Manifest struct {
	RepositoryID  [16]byte
	FormatVersion uint8
	Archives      map[string]ArchiveRef
	ItemKeyType   byte
	TAMRequired   bool
	TAM           []byte // HMAC binding the rest of the manifest to the key, when present

	Unknown map[string]msgpack.RawMessage
}

// NewManifest creates an empty manifest for a freshly initialized repository.
func NewManifest(repositoryID [16]byte, tamRequired bool) *Manifest {
	return &Manifest{
		RepositoryID:  repositoryID,
		FormatVersion: 1,
		Archives:      make(map[string]ArchiveRef),
		ItemKeyType:   1,
		TAMRequired:   tamRequired,
	}
}

// manifestWire is the on-the-wire shape; archives are encoded as a map
// of name -> [id, unix-nanos] pairs to keep the format simple and
// language-agnostic.
type manifestWire struct {
	RepositoryID  []byte                    `msgpack:"repository_id"`
	FormatVersion uint8                     `msgpack:"format_version"`
	Archives      map[string][2]interface{} `msgpack:"archives"`
	ItemKeyType   byte                      `msgpack:"item_key_type"`
	TAMRequired   bool                      `msgpack:"tam_required"`
}

// Marshal encodes the manifest for storage, including its "tam" field
// when a TAM is present. TAMBody gives the bytes without that field,
// which are what the TAM signs and verifies.
func (m *Manifest) Marshal() ([]byte, error) {
	wire := manifestWire{
		RepositoryID:  m.RepositoryID[:],
		FormatVersion: m.FormatVersion,
		Archives:      make(map[string][2]interface{}, len(m.Archives)),
		ItemKeyType:   m.ItemKeyType,
		TAMRequired:   m.TAMRequired,
	}
	for name, ref := range m.Archives {
		wire.Archives[name] = [2]interface{}{ref.ID[:], ref.Timestamp.UnixNano()}
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	fieldCount := 5 + len(m.Unknown)
	if m.TAM != nil {
		fieldCount++
	}
	if err := enc.EncodeMapLen(fieldCount); err != nil {
		return nil, err
	}
	pairs := []struct {
		key string
		val interface{}
	}{
		{"repository_id", wire.RepositoryID},
		{"format_version", wire.FormatVersion},
		{"archives", wire.Archives},
		{"item_key_type", wire.ItemKeyType},
		{"tam_required", wire.TAMRequired},
	}
	for _, p := range pairs {
		if err := enc.EncodeString(p.key); err != nil {
			return nil, err
		}
		if err := enc.Encode(p.val); err != nil {
			return nil, err
		}
	}
	if m.TAM != nil {
		if err := enc.EncodeString("tam"); err != nil {
			return nil, err
		}
		if err := enc.EncodeBytes(m.TAM); err != nil {
			return nil, err
		}
	}
	for k, v := range m.Unknown {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a manifest, preserving any fields it doesn't
// recognize in Unknown so a newer writer's additions survive a
// read-modify-write by an older binary.
func (m *Manifest) Unmarshal(data []byte) error {
	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("archive: decode manifest: %w", err)
	}

	known := map[string]bool{
		"repository_id": true, "format_version": true, "archives": true,
		"item_key_type": true, "tam_required": true, "tam": true,
	}

	if v, ok := raw["repository_id"]; ok {
		var b []byte
		if err := msgpack.Unmarshal(v, &b); err != nil {
			return err
		}
		copy(m.RepositoryID[:], b)
	}
	if v, ok := raw["format_version"]; ok {
		if err := msgpack.Unmarshal(v, &m.FormatVersion); err != nil {
			return err
		}
	}
	if v, ok := raw["item_key_type"]; ok {
		if err := msgpack.Unmarshal(v, &m.ItemKeyType); err != nil {
			return err
		}
	}
	if v, ok := raw["tam_required"]; ok {
		if err := msgpack.Unmarshal(v, &m.TAMRequired); err != nil {
			return err
		}
	}
	if v, ok := raw["tam"]; ok {
		if err := msgpack.Unmarshal(v, &m.TAM); err != nil {
			return err
		}
	}
	if v, ok := raw["archives"]; ok {
		var wire map[string][2]interface{}
		if err := msgpack.Unmarshal(v, &wire); err != nil {
			return err
		}
		m.Archives = make(map[string]ArchiveRef, len(wire))
		for name, pair := range wire {
			idBytes, _ := pair[0].([]byte)
			var id segment.ObjectID
			copy(id[:], idBytes)
			var ts time.Time
			switch n := pair[1].(type) {
			case int64:
				ts = time.Unix(0, n)
			case uint64:
				ts = time.Unix(0, int64(n))
			}
			m.Archives[name] = ArchiveRef{ID: id, Timestamp: ts}
		}
	}

	m.Unknown = make(map[string]msgpack.RawMessage)
	for k, v := range raw {
		if !known[k] {
			m.Unknown[k] = v
		}
	}
	return nil
}

// TAMBody returns the manifest bytes with the tam field stripped, the
// exact byte range that TAM binds.
func (m *Manifest) TAMBody() ([]byte, error) {
	clone := *m
	clone.TAM = nil
	return clone.Marshal()
}
