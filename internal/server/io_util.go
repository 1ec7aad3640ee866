package server

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errWouldBlock signals that a read/write returned EAGAIN/EWOULDBLOCK —
// backpressure, not a failure (spec.md §7).
var errWouldBlock = errors.New("would block")

// isWouldBlock reports whether err is the non-blocking "try again" errno.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// readHandshakeLine reads from conn.clientFD, accumulating into
// conn.handshakeBuf across edge-triggered readiness events until a
// newline is seen or maxLen bytes have been buffered. Returns
// errWouldBlock when no complete line is available yet — the caller
// rearms and waits for the next readiness event.
func (s *Server) readHandshakeLine(conn *Connection, maxLen int) ([]byte, error) {
	tmp := make([]byte, maxLen)

	for {
		n, err := unix.Read(conn.clientFD, tmp)
		if n > 0 {
			conn.handshakeBuf = append(conn.handshakeBuf, tmp[:n]...)
			if len(conn.handshakeBuf) > maxLen {
				return nil, errors.New("handshake line exceeds maximum length")
			}
			if idx := indexByte(conn.handshakeBuf, '\n'); idx >= 0 {
				line := conn.handshakeBuf[:idx+1]
				conn.handshakeBuf = nil
				return line, nil
			}
			continue
		}
		if err != nil {
			if isWouldBlock(err) {
				return nil, errWouldBlock
			}
			return nil, err
		}
		if n == 0 {
			return nil, errors.New("peer closed connection")
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
