// Package ipc provides the unix-socket control surface: a framed server for
// the daemon and a typed client for the CLI.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"murmur/internal/logging"
	"murmur/internal/protocol"
)

// Handler processes one decoded client message and returns the frames to
// send back, the last one being the reply. A nil result closes the
// connection without replying.
type Handler interface {
	Handle(ctx context.Context, msg protocol.ClientMessage) []protocol.DaemonMessage
}

// Server accepts connections on a unix socket and runs the message loop for
// each one. Connections are independent; a protocol error on one never
// affects the others.
type Server struct {
	path    string
	handler Handler
	logger  *slog.Logger
	baseCtx context.Context

	listener net.Listener

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// NewServer binds the socket. Any stale socket file at the path is removed
// first; the fresh socket is restricted to the owning user.
func NewServer(ctx context.Context, path string, handler Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("ipc: handler is required")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	return &Server{
		path:     path,
		handler:  handler,
		logger:   logging.WithComponent(logger, "ipc"),
		baseCtx:  ctx,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections until the listener is closed. It returns nil on
// a clean shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := verifyPeer(conn); err != nil {
			s.logger.Warn("rejected connection", logging.Error(err))
			conn.Close()
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// track registers a connection for forced close on shutdown. It reports
// false when the server is already closing.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	for {
		msg, err := protocol.ReadClient(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || s.isClosed() {
				return
			}
			s.logger.Warn("dropping connection", logging.Error(err))
			if errors.Is(err, protocol.ErrMalformed) {
				_ = protocol.WriteDaemon(conn, protocol.Error{Message: "malformed message"})
			}
			return
		}

		frames := s.handler.Handle(s.baseCtx, msg)
		if frames == nil {
			return
		}
		for _, frame := range frames {
			if err := protocol.WriteDaemon(conn, frame); err != nil {
				s.logger.Warn("write failed", logging.Error(err))
				return
			}
		}
	}
}

// Close stops accepting, force-closes every open connection, removes the
// socket file, and waits for the connection handlers to finish. Idle
// clients must not be able to pin the daemon past shutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		open = append(open, conn)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, conn := range open {
		conn.Close()
	}
	s.wg.Wait()
	if removeErr := os.Remove(s.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
		err = removeErr
	}
	return err
}

// Path returns the socket path the server is bound to.
func (s *Server) Path() string { return s.path }

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// verifyPeer checks via SO_PEERCRED that the connecting process runs as the
// daemon's own user or as root. The 0600 socket mode already enforces this
// in the common case; the credential check also covers relaxed umasks and
// moved socket files.
func verifyPeer(conn net.Conn) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("unexpected connection type %T", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("access raw connection: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("socket control: %w", err)
	}
	if credErr != nil {
		return fmt.Errorf("read peer credentials: %w", credErr)
	}
	if !peerAllowed(cred.Uid) {
		return fmt.Errorf("peer uid %d does not match daemon uid %d", cred.Uid, os.Getuid())
	}
	return nil
}

// peerAllowed accepts the daemon's own UID and root.
func peerAllowed(uid uint32) bool {
	return int(uid) == os.Getuid() || uid == 0
}
