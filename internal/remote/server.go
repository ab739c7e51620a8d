package remote

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"snapvault/internal/logging"
	"snapvault/internal/segment"
)

// Backend is the subset of *repo.Repository the server dispatches
// remote calls onto. Declared as an interface here (rather than
// importing internal/repo directly) so the server can be exercised
// against a fake in tests without pulling in the segment store stack.
type Backend interface {
	Get(id segment.ObjectID) ([]byte, error)
	Put(id segment.ObjectID, plaintext []byte) error
	Delete(id segment.ObjectID) error
	Commit(compact bool, threshold float64) error
	Scan(marker segment.ObjectID, limit int) ([]segment.ObjectID, error)
	List(marker segment.ObjectID, limit int) ([]segment.ObjectID, error)
}

// Restrictions carries the serve command's restrict-to-path / append-only /
// quota-override settings. Server checks only AppendOnly per call (it
// refuses delete); AllowedPaths and QuotaBytes are applied by the serve
// command when it opens the repository, before any call is served.
type Restrictions struct {
	AllowedPaths []string
	AppendOnly   bool
	QuotaBytes   int64 // 0 means the repository's own configured quota applies
}

// ErrMethodNotAllowed is returned for a call forbidden by Restrictions.
var ErrMethodNotAllowed = errors.New("remote: method not allowed under current restrictions")

// ErrUnknownMethod is returned for a method name the server doesn't implement.
var ErrUnknownMethod = errors.New("remote: unknown method")

// Server serves Backend's operations over a framed connection, reading
// calls from r and writing results/errors to w. One Server handles one
// connection; Serve blocks until r returns EOF or ctx-like cancellation
// is signaled by closing the underlying stream.
type Server struct {
	backend Backend
	restr   Restrictions
	logger  *slog.Logger
	fw      *frameWriter

	mu      sync.Mutex
	pending sync.WaitGroup
}

// NewServer wraps backend for remote dispatch.
func NewServer(backend Backend, restr Restrictions, logger *slog.Logger) *Server {
	return &Server{
		backend: backend,
		restr:   restr,
		logger:  logging.Default(logger).With("component", "remote-server"),
	}
}

// Serve reads call frames from r and dispatches each to Backend,
// replying on w. Calls are dispatched in their own goroutine so a slow
// Get doesn't block a concurrently pipelined Put, matching the
// bidirectional pipelined transport; responses may
// therefore arrive out of order relative to their calls, which is why
// every frame carries msgid.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	s.fw = &frameWriter{w: w}
	defer s.pending.Wait()

	for {
		frame, err := readFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(frame) < 2 {
			return fmt.Errorf("remote: malformed call frame: %d elements", len(frame))
		}

		msgid, ok := asUint64(frame[0])
		if !ok {
			return fmt.Errorf("remote: malformed msgid")
		}
		method, ok := frame[1].(string)
		if !ok {
			return fmt.Errorf("remote: malformed method name")
		}
		args := frame[2:]

		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.dispatch(msgid, method, args)
		}()
	}
}

func (s *Server) dispatch(msgid uint64, method string, args []any) {
	if !s.allowed(method) {
		s.replyError(msgid, ErrMethodNotAllowed, method)
		return
	}

	value, err := s.call(method, args)
	if err != nil {
		s.replyError(msgid, err, method)
		return
	}
	if err := s.fw.writeResult(msgid, value); err != nil {
		s.logger.Warn("write result failed", "method", method, "error", err)
	}
}

func (s *Server) replyError(msgid uint64, err error, method string) {
	if werr := s.fw.writeError(msgid, err.Error(), "RemoteError", ""); werr != nil {
		s.logger.Warn("write error frame failed", "method", method, "error", werr)
	}
}

func (s *Server) allowed(method string) bool {
	if s.restr.AppendOnly && method == "delete" {
		return false
	}
	return true
}

func (s *Server) call(method string, args []any) (any, error) {
	switch method {
	case "get":
		id, err := argObjectID(args, 0)
		if err != nil {
			return nil, err
		}
		data, err := s.backend.Get(id)
		if err != nil {
			return nil, err
		}
		return data, nil

	case "put":
		id, err := argObjectID(args, 0)
		if err != nil {
			return nil, err
		}
		data, err := argBytes(args, 1)
		if err != nil {
			return nil, err
		}
		if err := s.backend.Put(id, data); err != nil {
			return nil, err
		}
		return true, nil

	case "delete":
		id, err := argObjectID(args, 0)
		if err != nil {
			return nil, err
		}
		if err := s.backend.Delete(id); err != nil {
			return nil, err
		}
		return true, nil

	case "commit":
		compact, _ := argBool(args, 0)
		threshold, _ := argFloat(args, 1)
		if err := s.backend.Commit(compact, threshold); err != nil {
			return nil, err
		}
		return true, nil

	case "scan", "list":
		marker, err := argObjectID(args, 0)
		if err != nil {
			return nil, err
		}
		limit, _ := argInt(args, 1)
		var ids []segment.ObjectID
		if method == "scan" {
			ids, err = s.backend.Scan(marker, limit)
		} else {
			ids, err = s.backend.List(marker, limit)
		}
		if err != nil {
			return nil, err
		}
		out := make([]any, len(ids))
		for i, id := range ids {
			out[i] = id[:]
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}
