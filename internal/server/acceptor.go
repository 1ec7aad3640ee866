package server

import (
	"fmt"

	"golang.org/x/sys/unix"
	"rembash.dev/rembash/internal/audit"
)

// acceptAll drains the listening socket (spec.md §4.2): repeatedly
// accept until it would block, commissioning a Connection record per
// accepted peer. Invoked from the event loop when the listener reports
// readiness; it is safe to run on a worker because the listener fd is
// one-shot and will not be redelivered until rearmed at the end.
func (s *Server) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			s.log.Warn("accept error", "error", err)
			break
		}

		remoteAddr := formatSockaddr(sa)
		if !s.allow.Allowed(sockaddrToNetAddr(sa)) {
			s.log.Info("connection rejected by acl", "remote", remoteAddr)
			s.logAudit(remoteAddr, audit.EventRejectedSecret, "acl denied")
			unix.Close(fd)
			continue
		}

		if err := s.commissionNewConnection(fd, remoteAddr); err != nil {
			s.log.Warn("failed to commission connection", "remote", remoteAddr, "error", err)
			unix.Close(fd)
			continue
		}
	}

	if err := s.rearmOneShot(s.epfd, s.listenFD, unix.EPOLLIN); err != nil {
		s.log.Error("failed to rearm listener", "error", err)
	}
}

// commissionNewConnection implements the remaining acceptor steps:
// allocate the Connection record, register it for readiness, send the
// greeting, and arm the handshake-expiration timer.
func (s *Server) commissionNewConnection(fd int, remoteAddr string) error {
	conn := newConnection(fd, remoteAddr)
	s.desc.set(fd, -1, conn)

	if err := s.armOneShot(s.epfd, fd, unix.EPOLLIN|unix.EPOLLRDHUP); err != nil {
		s.desc.clear(fd)
		return fmt.Errorf("register client fd: %w", err)
	}

	n, err := unix.Write(fd, []byte(greetingLine))
	if err != nil {
		s.desc.clear(fd)
		return fmt.Errorf("write greeting: %w", err)
	}
	if n != len(greetingLine) {
		s.desc.clear(fd)
		return fmt.Errorf("short write of greeting: wrote %d of %d bytes", n, len(greetingLine))
	}

	timerFD, err := s.armHandshakeTimer(conn)
	if err != nil {
		s.desc.clear(fd)
		return fmt.Errorf("arm handshake timer: %w", err)
	}
	conn.timerFD = timerFD

	s.logAudit(remoteAddr, audit.EventAccepted, "")
	return nil
}

func (s *Server) logAudit(remoteAddr, eventType, details string) {
	if s.auditDB == nil {
		return
	}
	if err := s.auditDB.Log(remoteAddr, eventType, details); err != nil {
		s.log.Debug("audit log failed", "error", err)
	}
}
