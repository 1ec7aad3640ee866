package server

import (
	"fmt"

	"golang.org/x/sys/unix"
	"rembash.dev/rembash/internal/audit"
)

// armHandshakeTimer creates a one-shot monotonic timerfd expiring after
// the configured handshake timeout, registers it with the secondary
// timer event instance, and indexes it to conn so the timer-ready
// handler can locate the connection to terminate (spec.md §4.3).
func (s *Server) armHandshakeTimer(conn *Connection) (int, error) {
	timerFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("timerfd_create: %w", err)
	}

	spec := &unix.ItimerSpec{
		Value: unix.NsecToTimespec(s.handshakeTimeout.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(timerFD, 0, spec, nil); err != nil {
		unix.Close(timerFD)
		return -1, fmt.Errorf("timerfd_settime: %w", err)
	}

	if err := s.armOneShot(s.timerEpfd, timerFD, unix.EPOLLIN); err != nil {
		unix.Close(timerFD)
		return -1, fmt.Errorf("register timerfd: %w", err)
	}

	s.desc.set(timerFD, conn.clientFD, conn)
	return timerFD, nil
}

// cancelHandshakeTimer disarms and closes a connection's handshake
// timer on handshake success; the kernel removes it from the timer
// event instance automatically on close.
func (s *Server) cancelHandshakeTimer(conn *Connection) {
	if conn.timerFD < 0 {
		return
	}
	s.desc.clear(conn.timerFD)
	unix.Close(conn.timerFD)
	conn.timerFD = -1
}

// handleTimerInstanceReady is dispatched when the secondary timer event
// instance reports readiness on the main instance. It drains every
// fired timerfd, terminating each owning connection in turn (teardown
// closes the timerfd), then rearms the timer instance itself on the
// main instance. Fired timerfds are not rearmed.
func (s *Server) handleTimerInstanceReady() {
	events := make([]unix.EpollEvent, maxEpollEvents)
	for {
		n, err := unix.EpollWait(s.timerEpfd, events, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.log.Warn("timer epoll_wait error", "error", err)
			break
		}
		if n == 0 {
			break
		}

		for i := 0; i < n; i++ {
			timerFD := int(events[i].Fd)
			s.expireHandshakeTimer(timerFD)
		}
	}

	if err := s.rearmOneShot(s.epfd, s.timerEpfd, unix.EPOLLIN); err != nil {
		s.log.Error("failed to rearm timer instance", "error", err)
	}
}

func (s *Server) expireHandshakeTimer(timerFD int) {
	entry, ok := s.desc.get(timerFD)
	if !ok || entry.conn == nil {
		unix.Close(timerFD)
		return
	}
	conn := entry.conn
	s.logAudit(conn.remoteAddr, audit.EventTimedOut, "")
	s.teardown(conn)
}
