package archive

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"snapvault/internal/segment"
)

// ChunkEntry is one (chunk-id, plaintext-size, compressed-size) triple
// referenced from a regular file's item record.
type ChunkEntry struct {
	ID             segment.ObjectID
	PlainSize      uint32
	CompressedSize uint32
}

// Item is one self-describing record in an archive's item stream: a
// directory entry, regular file, symlink, or hardlink.
type Item struct {
	Path  string
	Mode  uint32
	UID   int
	GID   int
	User  string
	Group string

	MTime int64 // nanoseconds since epoch
	ATime int64
	CTime int64

	// Source, when non-empty, names the path of the first instance of a
	// hardlinked file; this item carries no chunk list of its own.
	Source string

	// LinkTarget holds a symlink's target path.
	LinkTarget string

	Chunks []ChunkEntry

	Unknown map[string]msgpack.RawMessage
}

func (it *Item) MarshalMsgpack() ([]byte, error) {
	fields := map[string]interface{}{
		"path":  it.Path,
		"mode":  it.Mode,
		"uid":   it.UID,
		"gid":   it.GID,
		"user":  it.User,
		"group": it.Group,
		"mtime": it.MTime,
		"atime": it.ATime,
		"ctime": it.CTime,
	}
	keys := []string{"path", "mode", "uid", "gid", "user", "group", "mtime", "atime", "ctime"}
	if it.Source != "" {
		fields["source"] = it.Source
		keys = append(keys, "source")
	}
	if it.LinkTarget != "" {
		fields["link_target"] = it.LinkTarget
		keys = append(keys, "link_target")
	}
	if len(it.Chunks) > 0 {
		chunks := make([][]interface{}, len(it.Chunks))
		for i, c := range it.Chunks {
			chunks[i] = []interface{}{c.ID[:], c.PlainSize, c.CompressedSize}
		}
		fields["chunks"] = chunks
		keys = append(keys, "chunks")
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(keys) + len(it.Unknown)); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		if err := enc.Encode(fields[k]); err != nil {
			return nil, err
		}
	}
	for k, v := range it.Unknown {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (it *Item) UnmarshalMsgpack(data []byte) error {
	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("archive: decode item: %w", err)
	}
	known := map[string]bool{
		"path": true, "mode": true, "uid": true, "gid": true, "user": true,
		"group": true, "mtime": true, "atime": true, "ctime": true,
		"source": true, "link_target": true, "chunks": true,
	}

	for k, v := range raw {
		var err error
		switch k {
		case "path":
			err = msgpack.Unmarshal(v, &it.Path)
		case "mode":
			err = msgpack.Unmarshal(v, &it.Mode)
		case "uid":
			err = msgpack.Unmarshal(v, &it.UID)
		case "gid":
			err = msgpack.Unmarshal(v, &it.GID)
		case "user":
			err = msgpack.Unmarshal(v, &it.User)
		case "group":
			err = msgpack.Unmarshal(v, &it.Group)
		case "mtime":
			err = msgpack.Unmarshal(v, &it.MTime)
		case "atime":
			err = msgpack.Unmarshal(v, &it.ATime)
		case "ctime":
			err = msgpack.Unmarshal(v, &it.CTime)
		case "source":
			err = msgpack.Unmarshal(v, &it.Source)
		case "link_target":
			err = msgpack.Unmarshal(v, &it.LinkTarget)
		case "chunks":
			var chunks [][]interface{}
			if err = msgpack.Unmarshal(v, &chunks); err == nil {
				it.Chunks = make([]ChunkEntry, len(chunks))
				for i, c := range chunks {
					idBytes, _ := c[0].([]byte)
					var id segment.ObjectID
					copy(id[:], idBytes)
					it.Chunks[i] = ChunkEntry{
						ID:             id,
						PlainSize:      toUint32(c[1]),
						CompressedSize: toUint32(c[2]),
					}
				}
			}
		}
		if err != nil {
			return fmt.Errorf("archive: decode item field %q: %w", k, err)
		}
	}

	it.Unknown = make(map[string]msgpack.RawMessage)
	for k, v := range raw {
		if !known[k] {
			it.Unknown[k] = v
		}
	}
	return nil
}

func toUint32(v interface{}) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case uint64:
		return uint32(n)
	case int64:
		return uint32(n)
	case int8:
		return uint32(n)
	case int16:
		return uint32(n)
	case int32:
		return uint32(n)
	case uint8:
		return uint32(n)
	case uint16:
		return uint32(n)
	default:
		return 0
	}
}
