package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"snapvault/internal/segment"
)

// Metadata is an archive's own plaintext dict: everything about the
// archive except the item records themselves, which live in the
// chunks listed in Items.
type Metadata struct {
	Name          string
	Comment       string
	Start, End    time.Time
	ChunkerParams string
	Cmdline       []string
	Items         []segment.ObjectID

	Unknown map[string]msgpack.RawMessage
}

func (a *Metadata) Marshal() ([]byte, error) {
	items := make([][]byte, len(a.Items))
	for i, id := range a.Items {
		items[i] = id[:]
	}
	fields := map[string]interface{}{
		"name":           a.Name,
		"comment":        a.Comment,
		"start":          a.Start.UnixNano(),
		"end":            a.End.UnixNano(),
		"chunker_params": a.ChunkerParams,
		"cmdline":        a.Cmdline,
		"items":          items,
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(fields) + len(a.Unknown)); err != nil {
		return nil, err
	}
	for _, k := range []string{"name", "comment", "start", "end", "chunker_params", "cmdline", "items"} {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		if err := enc.Encode(fields[k]); err != nil {
			return nil, err
		}
	}
	for k, v := range a.Unknown {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (a *Metadata) Unmarshal(data []byte) error {
	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("archive: decode metadata: %w", err)
	}
	known := map[string]bool{
		"name": true, "comment": true, "start": true, "end": true,
		"chunker_params": true, "cmdline": true, "items": true,
	}

	if v, ok := raw["name"]; ok {
		msgpack.Unmarshal(v, &a.Name)
	}
	if v, ok := raw["comment"]; ok {
		msgpack.Unmarshal(v, &a.Comment)
	}
	if v, ok := raw["start"]; ok {
		var ns int64
		msgpack.Unmarshal(v, &ns)
		a.Start = time.Unix(0, ns)
	}
	if v, ok := raw["end"]; ok {
		var ns int64
		msgpack.Unmarshal(v, &ns)
		a.End = time.Unix(0, ns)
	}
	if v, ok := raw["chunker_params"]; ok {
		msgpack.Unmarshal(v, &a.ChunkerParams)
	}
	if v, ok := raw["cmdline"]; ok {
		msgpack.Unmarshal(v, &a.Cmdline)
	}
	if v, ok := raw["items"]; ok {
		var items [][]byte
		if err := msgpack.Unmarshal(v, &items); err != nil {
			return err
		}
		a.Items = make([]segment.ObjectID, len(items))
		for i, b := range items {
			copy(a.Items[i][:], b)
		}
	}

	a.Unknown = make(map[string]msgpack.RawMessage)
	for k, v := range raw {
		if !known[k] {
			a.Unknown[k] = v
		}
	}
	return nil
}
