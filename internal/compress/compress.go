// Package compress implements the pluggable chunk compression codecs:
// none, lz4-class fast zstd, zlib, lzma, zstd, brotli, an auto
// heuristic, and an obfuscate wrapper that pads compressed output to
// resist fingerprinting by stored chunk size.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Codec identifies the compression algorithm a chunk was stored with.
// Persisted as the first byte of a chunk's compressed envelope so
// decompress never needs out-of-band knowledge of how a chunk was
// written.
type Codec byte

const (
	CodecNone Codec = iota
	CodecLZ4        // zstd at SpeedFastest, standing in for lz4 (see DESIGN.md)
	CodecZlib
	CodecZstd
	CodecBrotli
	CodecObfuscate
	CodecLZMA
)

// Level selects an effort/ratio tradeoff within a codec; codecs that
// don't support variable levels (none, lz4-class, obfuscate) ignore it.
type Level byte

const defaultBrotliLevel = 5

var (
	zstdEncoders = map[zstd.EncoderLevel]*zstd.Encoder{}
	zstdDecoder  *zstd.Decoder
)

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("compress: init zstd decoder: " + err.Error())
	}
}

func zstdEncoderFor(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	if enc, ok := zstdEncoders[level]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	zstdEncoders[level] = enc
	return enc, nil
}

// Compress encodes data with codec at level and returns the bare payload.
// The codec and level are not embedded, so callers that frame envelopes
// record them in their own wire format (repo.sealChunk prefixes them).
func Compress(codec Codec, level Level, data []byte) (payload []byte, err error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		enc, err := zstdEncoderFor(zstd.SpeedFastest)
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	case CodecZlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, zlibLevel(level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, err := zstdEncoderFor(zstdLevel(level))
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	case CodecBrotli:
		var buf bytes.Buffer
		bl := int(level)
		if bl <= 0 {
			bl = defaultBrotliLevel
		}
		w := brotli.NewWriterLevel(&buf, bl)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecLZMA:
		var buf bytes.Buffer
		w, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}
}

// Decompress reverses Compress for the given codec/level.
func Decompress(codec Codec, level Level, payload []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return payload, nil
	case CodecLZ4, CodecZstd:
		return zstdDecoder.DecodeAll(payload, nil)
	case CodecZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CodecBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
	case CodecLZMA:
		r, err := lzma.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}
}

func zlibLevel(l Level) int {
	if l == 0 {
		return zlib.DefaultCompression
	}
	return int(l)
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l == 0:
		return zstd.SpeedDefault
	case l <= 3:
		return zstd.SpeedFastest
	case l <= 9:
		return zstd.SpeedDefault
	case l <= 19:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
