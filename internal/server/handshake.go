package server

import (
	"golang.org/x/sys/unix"
	"rembash.dev/rembash/internal/audit"
)

const maxHandshakeLineLen = 256

// handleHandshakeReadable is dispatched when a NEW connection's
// client_fd reports input readiness (spec.md §4.4). It reads one
// newline-terminated line bounded to maxHandshakeLineLen, compares it
// against the configured secret, and either commissions a shell or
// rejects and tears the connection down.
func (s *Server) handleHandshakeReadable(conn *Connection) {
	line, err := s.readHandshakeLine(conn, maxHandshakeLineLen)
	if err != nil {
		if err == errWouldBlock {
			if rerr := s.rearmOneShot(s.epfd, conn.clientFD, unix.EPOLLIN|unix.EPOLLRDHUP); rerr != nil {
				s.log.Error("failed to rearm client fd", "error", rerr)
			}
			return
		}
		s.teardown(conn)
		return
	}

	secret, framed := trimSecretLine(line)
	if !framed || !s.verifier.Verify(secret) {
		unix.Write(conn.clientFD, []byte(errorLine)) // best-effort per spec.md §4.4
		s.logAudit(conn.remoteAddr, audit.EventRejectedSecret, "")
		s.teardown(conn)
		return
	}

	s.cancelHandshakeTimer(conn)

	n, err := unix.Write(conn.clientFD, []byte(okLine))
	if err != nil || n != len(okLine) {
		s.teardown(conn)
		return
	}

	if err := s.commissionShell(conn); err != nil {
		s.log.Warn("failed to commission shell", "remote", conn.remoteAddr, "error", err)
		s.teardown(conn)
		return
	}

	conn.setState(stateEstablished)
	s.logAudit(conn.remoteAddr, audit.EventAdmitted, "")

	if err := s.rearmOneShot(s.epfd, conn.clientFD, unix.EPOLLIN|unix.EPOLLRDHUP); err != nil {
		s.log.Error("failed to rearm client fd after admission", "error", err)
	}
}

// trimSecretLine strips the trailing newline (and any carriage return)
// and the surrounding angle brackets the wire protocol's "<SECRET>\n"
// line carries, returning the bare secret. framed is false when the
// line is not wrapped in "<" and ">".
func trimSecretLine(line []byte) (secret []byte, framed bool) {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if len(line) < 2 || line[0] != '<' || line[len(line)-1] != '>' {
		return nil, false
	}
	return line[1 : len(line)-1], true
}
