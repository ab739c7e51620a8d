// Package remote implements the repository's wire protocol: a
// length-framed, pipelined msgpack request/response stream running
// over a subprocess's stdio (by default an ssh child process), letting
// the same Repository operation set run against a remote host.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrFrameTooLarge guards against a corrupt or hostile length prefix
// causing an unbounded allocation.
var ErrFrameTooLarge = errors.New("remote: frame exceeds maximum size")

// MaxFrameSize bounds a single frame's body, independent of any single
// call's argument/result size limits enforced at a higher layer.
const MaxFrameSize = 256 << 20

// frameKind distinguishes the protocol's three message shapes.
type frameKind int

const (
	frameCall frameKind = iota
	frameResult
	frameError
)

// writeFrame encodes payload as a length-prefixed msgpack array. kind is
// not written: every frame starts with its msgid, and readers tell
// call, result and error frames apart by the array's shape.
func writeFrame(w io.Writer, kind frameKind, payload []any) error {
	var buf []byte
	var err error
	switch kind {
	case frameCall:
		buf, err = msgpack.Marshal(payload)
	case frameResult:
		buf, err = msgpack.Marshal(payload)
	case frameError:
		buf, err = msgpack.Marshal(payload)
	default:
		return fmt.Errorf("remote: unknown frame kind %d", kind)
	}
	if err != nil {
		return err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// readFrame reads one length-prefixed msgpack array and decodes it
// into a generic slice; callers inspect its shape to decide whether
// it's a call, result, or error frame.
func readFrame(r io.Reader) ([]any, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var frame []any
	if err := msgpack.Unmarshal(body, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// frameWriter serializes writes from multiple in-flight calls sharing one
// underlying writer (pipelining is many-calls-in-flight, one-frame-at-
// a-time-on-the-wire, matching a single multiplexed connection
// writer in fluentfwd).
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (fw *frameWriter) writeCall(msgid uint64, method string, args []any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	payload := make([]any, 0, 2+len(args))
	payload = append(payload, msgid, method)
	payload = append(payload, args...)
	return writeFrame(fw.w, frameCall, payload)
}

func (fw *frameWriter) writeResult(msgid uint64, value any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return writeFrame(fw.w, frameResult, []any{msgid, value})
}

func (fw *frameWriter) writeError(msgid uint64, message, class, traceback string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return writeFrame(fw.w, frameError, []any{msgid, message, class, traceback})
}
