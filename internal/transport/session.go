// Package transport owns the per-connection byte stream: newline-delimited
// protocol frames interleaved with raw payload bytes on one TCP connection.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

var (
	// ErrSessionClosed reports a read or write on a session whose peer has
	// gone away or that was closed locally. Connection loops treat it as a
	// normal termination signal.
	ErrSessionClosed = errors.New("session closed")

	// ErrTransferIncomplete reports a raw-payload read that ended before the
	// declared byte count arrived.
	ErrTransferIncomplete = errors.New("transfer incomplete")
)

// Session wraps one live connection. Sends are serialized so concurrent
// writers never interleave partial lines; the reader side is owned by a
// single receive loop.
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps conn. The session takes ownership: closing the session
// closes the connection.
func NewSession(conn net.Conn) *Session {
	return &Session{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Dial connects to a broker and wraps the connection.
func Dial(addr string) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSession(conn), nil
}

// Send writes one newline-terminated frame and flushes. Safe for concurrent use.
func (s *Session) Send(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.w.WriteString(line); err != nil {
		return s.mapErr(err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return s.mapErr(err)
	}
	return s.mapErr(s.w.Flush())
}

// Receive blocks for the next frame line, stripped of its newline. A peer
// close yields ErrSessionClosed.
func (s *Session) Receive() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", s.mapErr(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// SendRaw writes payload bytes in-stream, immediately after whatever frame
// preceded them, and flushes. Safe for concurrent use with Send.
func (s *Session) SendRaw(p []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.w.Write(p); err != nil {
		return s.mapErr(err)
	}
	return s.mapErr(s.w.Flush())
}

// SendWithPayload writes a frame line immediately followed by its raw
// payload, holding the write lock across both so no concurrent frame can
// land between them.
func (s *Session) SendWithPayload(line string, p []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.w.WriteString(line); err != nil {
		return s.mapErr(err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return s.mapErr(err)
	}
	if _, err := s.w.Write(p); err != nil {
		return s.mapErr(err)
	}
	return s.mapErr(s.w.Flush())
}

// ReceiveRaw reads exactly len(dst) bytes cumulatively, tolerating short
// reads. If the stream ends early it returns the bytes read so far and
// ErrTransferIncomplete.
func (s *Session) ReceiveRaw(dst []byte) (int, error) {
	n, err := io.ReadFull(s.r, dst)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: got %d of %d bytes", ErrTransferIncomplete, n, len(dst))
		}
		return n, s.mapErr(err)
	}
	return n, nil
}

// CopyRawTo streams exactly n payload bytes into w, tolerating short reads.
// A stream that ends early yields the byte count so far and
// ErrTransferIncomplete.
func (s *Session) CopyRawTo(w io.Writer, n int64) (int64, error) {
	copied, err := io.CopyN(w, s.r, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return copied, fmt.Errorf("%w: got %d of %d bytes", ErrTransferIncomplete, copied, n)
		}
		return copied, s.mapErr(err)
	}
	return copied, nil
}

// RemoteAddr returns the peer's IP without the port, as seen from this end
// of the connection. Call relays attach it so peers learn each other's
// network-visible address.
func (s *Session) RemoteAddr() string {
	addr := s.conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Close shuts the connection down. Idempotent and safe from any goroutine;
// pending reads and writes unblock with ErrSessionClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// mapErr folds transport failures into ErrSessionClosed so callers can treat
// every peer-gone condition uniformly.
func (s *Session) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrSessionClosed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return err
}
