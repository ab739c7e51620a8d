package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"snapvault/internal/logging"
	"snapvault/internal/segment"
)

// ErrClientClosed is returned by pending and future calls once Close
// has run or the underlying stream has ended.
var ErrClientClosed = errors.New("remote: client closed")

// RemoteError wraps an [msgid, error, class, traceback] frame the
// server sent back for a specific call.
type RemoteError struct {
	Method    string
	Message   string
	Class     string
	Traceback string
}

func (e *RemoteError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("remote: %s: %s: %s", e.Method, e.Class, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Method, e.Message)
}

// Client is a pipelined RPC client: multiple Call invocations may be
// in flight concurrently over the same underlying connection, each
// correlated to its response by msgid, exactly mirroring the
// subprocess-stdio transport (ssh by default).
type Client struct {
	fw     *frameWriter
	logger *slog.Logger

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]chan frameReply
	closed  bool
	closeErr error

	cmd *exec.Cmd
}

type frameReply struct {
	value any
	err   error
}

// Dial spawns command (default "ssh") with args, wiring its stdin/stdout
// as the frame stream, and starts the reader goroutine. Callers should
// defer Close.
func Dial(ctx context.Context, command string, args []string, logger *slog.Logger) (*Client, error) {
	if command == "" {
		command = "ssh"
	}
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("remote: start %s: %w", command, err)
	}

	c := NewClientOverStream(stdout, stdin, logger)
	c.cmd = cmd
	return c, nil
}

// NewClientOverStream builds a Client directly over an arbitrary
// reader/writer pair (e.g. net.Pipe in tests, or an already-established
// ssh session's stdio), without spawning a subprocess.
func NewClientOverStream(r io.Reader, w io.Writer, logger *slog.Logger) *Client {
	c := &Client{
		fw:      &frameWriter{w: w},
		logger:  logging.Default(logger).With("component", "remote-client"),
		pending: make(map[uint64]chan frameReply),
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	for {
		frame, err := readFrame(r)
		if err != nil {
			c.shutdown(err)
			return
		}
		if len(frame) < 2 {
			continue
		}
		msgid, ok := asUint64(frame[0])
		if !ok {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msgid]
		if ok {
			delete(c.pending, msgid)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if len(frame) >= 4 {
			message, _ := frame[1].(string)
			class, _ := frame[2].(string)
			traceback, _ := frame[3].(string)
			ch <- frameReply{err: &RemoteError{Message: message, Class: class, Traceback: traceback}}
		} else {
			ch <- frameReply{value: frame[1]}
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if cause != nil && !errors.Is(cause, io.EOF) {
		c.closeErr = cause
	} else {
		c.closeErr = ErrClientClosed
	}
	for id, ch := range c.pending {
		ch <- frameReply{err: c.closeErr}
		delete(c.pending, id)
	}
}

// Call issues method(args...) and blocks for the matching response.
func (c *Client) Call(method string, args ...any) (any, error) {
	msgid := atomic.AddUint64(&c.nextID, 1)

	ch := make(chan frameReply, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	c.pending[msgid] = ch
	c.mu.Unlock()

	if err := c.fw.writeCall(msgid, method, args); err != nil {
		c.mu.Lock()
		delete(c.pending, msgid)
		c.mu.Unlock()
		return nil, err
	}

	reply := <-ch
	if reply.err != nil {
		if re, ok := reply.err.(*RemoteError); ok {
			re.Method = method
		}
		return nil, reply.err
	}
	return reply.value, nil
}

// Close releases the underlying subprocess (if any) and unblocks any
// callers still waiting on a response.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// Get/Put/Delete/Commit/Scan/List are typed convenience wrappers over
// Call, giving remote.Client the same call shape as repo.Repository so
// a CLI command can use either behind one interface.

func (c *Client) Get(id segment.ObjectID) ([]byte, error) {
	v, err := c.Call("get", id[:])
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("remote: get: unexpected result type %T", v)
	}
	return b, nil
}

func (c *Client) Put(id segment.ObjectID, plaintext []byte) error {
	_, err := c.Call("put", id[:], plaintext)
	return err
}

func (c *Client) Delete(id segment.ObjectID) error {
	_, err := c.Call("delete", id[:])
	return err
}

func (c *Client) Commit(compact bool, threshold float64) error {
	_, err := c.Call("commit", compact, threshold)
	return err
}

func (c *Client) Scan(marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	return c.listLike("scan", marker, limit)
}

func (c *Client) List(marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	return c.listLike("list", marker, limit)
}

func (c *Client) listLike(method string, marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	v, err := c.Call(method, marker[:], limit)
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("remote: %s: unexpected result type %T", method, v)
	}
	ids := make([]segment.ObjectID, 0, len(raw))
	for _, item := range raw {
		b, ok := item.([]byte)
		if !ok || len(b) != len(segment.ObjectID{}) {
			return nil, fmt.Errorf("remote: %s: malformed id in result", method)
		}
		var id segment.ObjectID
		copy(id[:], b)
		ids = append(ids, id)
	}
	return ids, nil
}
