package server

import (
	"golang.org/x/sys/unix"
)

// eventLoop is the single-threaded, edge-triggered, one-shot readiness
// loop of spec.md §4.7. It never blocks on connection I/O itself —
// every per-connection handler runs on the worker pool, dispatched by
// handing the descriptor integer to Dispatch exactly as spec.md §4.7
// describes ("dispatch is performed by handing the descriptor integer
// to the pool").
func (s *Server) eventLoop() error {
	events := make([]unix.EpollEvent, maxEpollEvents)

	for {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			s.dispatchEvent(events[i])
		}
	}
}

func (s *Server) dispatchEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)

	switch fd {
	case s.listenFD:
		s.pool.Dispatch(fd, func(int) { s.acceptAll() })
		return
	case s.timerEpfd:
		s.pool.Dispatch(fd, func(int) { s.handleTimerInstanceReady() })
		return
	}

	conn, ok := s.desc.connOf(fd)
	if !ok {
		return
	}

	// Error/hangup flags terminate the connection regardless of which
	// descriptor reported them (spec.md §4.7).
	if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		s.pool.Dispatch(fd, func(int) { s.teardown(conn) })
		return
	}

	switch {
	case ev.Events&unix.EPOLLOUT != 0:
		s.pool.Dispatch(fd, func(writeFD int) { s.handleRelayWritable(conn, writeFD) })
	case ev.Events&unix.EPOLLIN != 0:
		if conn.state() == stateNew {
			s.pool.Dispatch(fd, func(int) { s.handleHandshakeReadable(conn) })
		} else {
			s.pool.Dispatch(fd, func(readFD int) { s.handleRelayReadable(conn, readFD) })
		}
	}
}
