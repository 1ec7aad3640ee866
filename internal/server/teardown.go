package server

import (
	"golang.org/x/sys/unix"
	"rembash.dev/rembash/internal/audit"
)

// teardown implements spec.md §4.8: idempotent connection teardown.
// markTerminated's CAS ensures that if two workers (one per direction)
// race to tear down the same connection, only the first one actually
// closes descriptors and frees index slots.
func (s *Server) teardown(conn *Connection) {
	if !conn.markTerminated() {
		return
	}

	s.desc.clear(conn.clientFD)
	unix.Close(conn.clientFD)

	if conn.masterFD >= 0 {
		s.desc.clear(conn.masterFD)
		unix.Close(conn.masterFD)
	}

	if conn.timerFD >= 0 {
		s.desc.clear(conn.timerFD)
		unix.Close(conn.timerFD)
	}

	s.logAudit(conn.remoteAddr, audit.EventTerminated, "")
}
