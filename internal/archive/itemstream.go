package archive

import (
	"bytes"
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"snapvault/internal/segment"
)

// defaultItemStreamTarget is the uncompressed size at which the item
// stream writer flushes its buffer to a new chunk.
const defaultItemStreamTarget = 2 << 20

// ChunkPutter stores a plaintext chunk and returns its content-addressed id.
type ChunkPutter interface {
	PutChunk(plaintext []byte) (segment.ObjectID, error)
}

// ChunkGetter fetches a chunk's plaintext by id.
type ChunkGetter interface {
	GetChunk(id segment.ObjectID) ([]byte, error)
}

// ItemWriter buffers encoded item records and flushes them to a chunk
// whenever the next record would push the buffer past its target size,
// following the
// buffered-then-flush framing generalized from log records to archive
// items. The resulting chunk ids, in emission order, form an archive's
// item list.
type ItemWriter struct {
	putter ChunkPutter
	target int
	buf    bytes.Buffer
	items  []segment.ObjectID
}

// NewItemWriter creates an ItemWriter flushing to putter with the
// default target buffer size.
func NewItemWriter(putter ChunkPutter) *ItemWriter {
	return &ItemWriter{putter: putter, target: defaultItemStreamTarget}
}

// Add encodes item and appends it to the buffer, flushing first if the
// buffer is non-empty and appending item would take it past the target
// size.
func (w *ItemWriter) Add(item *Item) error {
	encoded, err := item.MarshalMsgpack()
	if err != nil {
		return err
	}
	if w.buf.Len() > 0 && w.buf.Len()+len(encoded) > w.target {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.buf.Write(encoded)
	return nil
}

func (w *ItemWriter) flush() error {
	if w.buf.Len() == 0 {
		return nil
	}
	id, err := w.putter.PutChunk(w.buf.Bytes())
	if err != nil {
		return err
	}
	w.items = append(w.items, id)
	w.buf.Reset()
	return nil
}

// Close flushes any remaining buffered items and returns the ordered
// list of item-stream chunk ids.
func (w *ItemWriter) Close() ([]segment.ObjectID, error) {
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w.items, nil
}

// ItemReader reconstitutes the item stream from its chunk ids.
type ItemReader struct {
	dec *msgpack.Decoder
}

// NewItemReader fetches and concatenates every chunk in ids via getter,
// returning a reader that yields the original Add-order items.
func NewItemReader(getter ChunkGetter, ids []segment.ObjectID) (*ItemReader, error) {
	var buf bytes.Buffer
	for _, id := range ids {
		data, err := getter.GetChunk(id)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return &ItemReader{dec: msgpack.NewDecoder(&buf)}, nil
}

// Next decodes the next item, or io.EOF once the stream is exhausted.
func (r *ItemReader) Next() (*Item, error) {
	var item Item
	if err := r.dec.Decode(&item); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return &item, nil
}
