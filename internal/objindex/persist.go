package objindex

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"snapvault/internal/format"
	"snapvault/internal/segment"
)

// ErrMismatchedTransaction is returned by VerifyIntegrity when the
// integrity file's HMAC does not match the index and hints on disk.
var ErrMismatchedTransaction = errors.New("objindex: index/hints transaction id mismatch")

const indexVersion = 1

// dumpRecord is the on-disk encoding of one index entry:
// id(32) | segment(8) | offset(8) | size(4), all little-endian.
const dumpRecordSize = 32 + 8 + 8 + 4

// Persist writes the index's compact dump to index.<txid> under dir, with
// the shared format.Header (signature, TypeObjectIndex, version) prefixed.
func Persist(ix *Index, dir string, txID segment.SegmentID) (path string, err error) {
	path = filepath.Join(dir, fmt.Sprintf("index.%d", txID))
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	hdr := format.Header{Type: format.TypeObjectIndex, Version: indexVersion}
	var hdrBuf [format.HeaderSize]byte = hdr.Encode()
	if _, err = f.Write(hdrBuf[:]); err != nil {
		return "", err
	}

	buf := make([]byte, dumpRecordSize)
	ix.Iter(func(id segment.ObjectID, loc Location) bool {
		copy(buf[:32], id[:])
		binary.LittleEndian.PutUint64(buf[32:40], uint64(loc.Segment))
		binary.LittleEndian.PutUint64(buf[40:48], uint64(loc.Offset))
		binary.LittleEndian.PutUint32(buf[48:52], loc.Size)
		if _, werr := f.Write(buf); werr != nil {
			err = werr
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}

	if err = f.Sync(); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	if err = os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads an index previously written by Persist.
func Load(dir string, txID segment.SegmentID) (*Index, error) {
	path := filepath.Join(dir, fmt.Sprintf("index.%d", txID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < format.HeaderSize {
		return nil, format.ErrHeaderTooSmall
	}
	if _, err := format.DecodeAndValidate(data[:format.HeaderSize], format.TypeObjectIndex, indexVersion); err != nil {
		return nil, err
	}
	body := data[format.HeaderSize:]
	if len(body)%dumpRecordSize != 0 {
		return nil, fmt.Errorf("objindex: corrupt dump, size %d not a multiple of %d", len(body), dumpRecordSize)
	}

	ix := New()
	for off := 0; off < len(body); off += dumpRecordSize {
		rec := body[off : off+dumpRecordSize]
		var id segment.ObjectID
		copy(id[:], rec[:32])
		loc := Location{
			Segment: segment.SegmentID(binary.LittleEndian.Uint64(rec[32:40])),
			Offset:  int64(binary.LittleEndian.Uint64(rec[40:48])),
			Size:    binary.LittleEndian.Uint32(rec[48:52]),
		}
		ix.Set(id, loc)
	}
	return ix, nil
}

// Hints is the side-car metadata persisted alongside an index dump: per
// segment live-byte counters, the set of segments pending compaction, the
// shadow index (id -> segments that historically held it, so compaction
// never drops a live copy), and the running storage-quota usage.
type Hints struct {
	SegmentLiveBytes map[segment.SegmentID]int64
	PendingCompact   []segment.SegmentID
	ShadowIndex      map[segment.ObjectID][]segment.SegmentID
	StorageQuotaUsed int64
}

// NewHints returns an empty Hints value.
func NewHints() *Hints {
	return &Hints{
		SegmentLiveBytes: make(map[segment.SegmentID]int64),
		ShadowIndex:      make(map[segment.ObjectID][]segment.SegmentID),
	}
}

// RememberShadow records that id was previously stored in seg, so a later
// compaction that finds id deleted-then-re-added-elsewhere doesn't
// mistakenly treat seg's old copy as garbage before the new COMMIT lands.
func (h *Hints) RememberShadow(id segment.ObjectID, seg segment.SegmentID) {
	list := h.ShadowIndex[id]
	for _, s := range list {
		if s == seg {
			return
		}
	}
	h.ShadowIndex[id] = append(list, seg)
}

const hintsVersion = 1

// PersistHints writes hints.<txid> as a simple length-prefixed encoding of
// each field; it is paired with an index.<txid> dump of the same
// transaction id and authenticated by integrity.<txid> (see WriteIntegrity).
func PersistHints(h *Hints, dir string, txID segment.SegmentID) (path string, err error) {
	path = filepath.Join(dir, fmt.Sprintf("hints.%d", txID))
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	hdr := format.Header{Type: format.TypeHints, Version: hintsVersion}
	hdrBuf := hdr.Encode()
	buf := &bytes.Buffer{}
	buf.Write(hdrBuf[:])

	writeUint64(buf, uint64(len(h.SegmentLiveBytes)))
	for seg, live := range h.SegmentLiveBytes {
		writeUint64(buf, uint64(seg))
		writeUint64(buf, uint64(live))
	}
	writeUint64(buf, uint64(len(h.PendingCompact)))
	for _, seg := range h.PendingCompact {
		writeUint64(buf, uint64(seg))
	}
	writeUint64(buf, uint64(len(h.ShadowIndex)))
	for id, segs := range h.ShadowIndex {
		buf.Write(id[:])
		writeUint64(buf, uint64(len(segs)))
		for _, seg := range segs {
			writeUint64(buf, uint64(seg))
		}
	}
	writeUint64(buf, uint64(h.StorageQuotaUsed))

	if _, err = f.Write(buf.Bytes()); err != nil {
		return "", err
	}
	if err = f.Sync(); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	if err = os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// LoadHints reads hints.<txid>.
func LoadHints(dir string, txID segment.SegmentID) (*Hints, error) {
	path := filepath.Join(dir, fmt.Sprintf("hints.%d", txID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < format.HeaderSize {
		return nil, format.ErrHeaderTooSmall
	}
	if _, err := format.DecodeAndValidate(data[:format.HeaderSize], format.TypeHints, hintsVersion); err != nil {
		return nil, err
	}
	r := bytes.NewReader(data[format.HeaderSize:])

	h := NewHints()
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		seg, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		live, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		h.SegmentLiveBytes[segment.SegmentID(seg)] = int64(live)
	}
	n, err = readUint64(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		seg, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		h.PendingCompact = append(h.PendingCompact, segment.SegmentID(seg))
	}
	n, err = readUint64(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var id segment.ObjectID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, err
		}
		m, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		segs := make([]segment.SegmentID, 0, m)
		for j := uint64(0); j < m; j++ {
			s, err := readUint64(r)
			if err != nil {
				return nil, err
			}
			segs = append(segs, segment.SegmentID(s))
		}
		h.ShadowIndex[id] = segs
	}
	quota, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	h.StorageQuotaUsed = int64(quota)
	return h, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteIntegrity writes integrity.<txid>: an HMAC-SHA256 over the
// concatenation of the index and hints file bytes for txID, keyed by
// integrityKey (derived from the repository's key material). It lets
// check detect a hints/index pair that was corrupted or swapped.
func WriteIntegrity(dir string, txID segment.SegmentID, integrityKey []byte) (path string, err error) {
	mac, err := computeIntegrity(dir, txID, integrityKey)
	if err != nil {
		return "", err
	}
	path = filepath.Join(dir, fmt.Sprintf("integrity.%d", txID))
	tmp := path + ".tmp"

	hdr := format.Header{Type: format.TypeIntegrity, Version: 1}
	hdrBuf := hdr.Encode()
	out := append(append([]byte{}, hdrBuf[:]...), mac...)
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// VerifyIntegrity recomputes the HMAC over the current index/hints pair for
// txID and compares it against the persisted integrity.<txid> file.
func VerifyIntegrity(dir string, txID segment.SegmentID, integrityKey []byte) error {
	path := filepath.Join(dir, fmt.Sprintf("integrity.%d", txID))
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) < format.HeaderSize {
		return format.ErrHeaderTooSmall
	}
	if _, err := format.DecodeAndValidate(data[:format.HeaderSize], format.TypeIntegrity, 1); err != nil {
		return err
	}
	want := data[format.HeaderSize:]

	got, err := computeIntegrity(dir, txID, integrityKey)
	if err != nil {
		return err
	}
	if !hmac.Equal(got, want) {
		return ErrMismatchedTransaction
	}
	return nil
}

func computeIntegrity(dir string, txID segment.SegmentID, key []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, key)
	for _, name := range []string{
		fmt.Sprintf("index.%d", txID),
		fmt.Sprintf("hints.%d", txID),
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		mac.Write(data)
	}
	return mac.Sum(nil), nil
}
