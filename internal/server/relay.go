package server

import (
	"golang.org/x/sys/unix"
)

const relayReadBufSize = 4096

// directionOf reports which relay direction a readiness event on fd
// belongs to, given its owning connection.
func directionOf(conn *Connection, fd int) direction {
	if fd == conn.clientFD {
		return dirClientToShell
	}
	return dirShellToClient
}

// sourceFDFor returns the read-side descriptor for a direction.
func sourceFDFor(conn *Connection, dir direction) int {
	if dir == dirClientToShell {
		return conn.clientFD
	}
	return conn.masterFD
}

// targetFDFor returns the write-side (peer) descriptor for a direction.
func targetFDFor(conn *Connection, dir direction) int {
	if dir == dirClientToShell {
		return conn.masterFD
	}
	return conn.clientFD
}

// handleRelayReadable implements the ESTABLISHED path of spec.md §4.6:
// source_fd is readable. Read up to relayReadBufSize bytes and attempt
// to write them whole to the peer; on a short would-block write, copy
// the unwritten suffix into the connection's per-direction pending
// buffer (never a pointer into this function's stack buffer — it does
// not outlive the call). That direction is then implicitly UNWRITTEN
// for as long as its pending buffer is non-empty.
func (s *Server) handleRelayReadable(conn *Connection, sourceFD int) {
	dir := directionOf(conn, sourceFD)
	targetFD := targetFDFor(conn, dir)

	buf := make([]byte, relayReadBufSize)
	n, err := unix.Read(sourceFD, buf)
	if err != nil {
		if isWouldBlock(err) {
			if rerr := s.rearmOneShot(s.epfd, sourceFD, unix.EPOLLIN|unix.EPOLLRDHUP); rerr != nil {
				s.log.Error("failed to rearm source fd", "error", rerr)
			}
			return
		}
		s.teardown(conn)
		return
	}
	if n == 0 {
		s.teardown(conn)
		return
	}

	written, werr := unix.Write(targetFD, buf[:n])
	if werr != nil {
		if isWouldBlock(werr) {
			written = 0 // nothing made it through before EAGAIN
		} else {
			s.teardown(conn)
			return
		}
	}

	if written < n {
		// Short write, whether from EAGAIN or a partial socket-buffer
		// accept: the remainder must be buffered and retried on the
		// target's next writable event, never dropped.
		p := &conn.pending[dir]
		p.set(buf[written:n])
		if rerr := s.rearmOneShot(s.epfd, targetFD, unix.EPOLLOUT); rerr != nil {
			s.log.Error("failed to rearm target fd for output", "error", rerr)
		}
		return
	}

	if rerr := s.rearmOneShot(s.epfd, sourceFD, unix.EPOLLIN|unix.EPOLLRDHUP); rerr != nil {
		s.log.Error("failed to rearm source fd", "error", rerr)
	}
}

// handleRelayWritable implements the UNWRITTEN path of spec.md §4.6:
// the write target for some direction has become writable. Drain the
// connection's pending buffer for that direction.
func (s *Server) handleRelayWritable(conn *Connection, writeFD int) {
	var dir direction
	if writeFD == conn.masterFD {
		dir = dirClientToShell
	} else {
		dir = dirShellToClient
	}
	p := &conn.pending[dir]
	sourceFD := sourceFDFor(conn, dir)

	view := p.view()
	written, err := unix.Write(writeFD, view)
	if err != nil {
		if isWouldBlock(err) {
			written = 0
		} else {
			s.teardown(conn)
			return
		}
	}

	if written < len(view) {
		p.advance(written)
		if rerr := s.rearmOneShot(s.epfd, writeFD, unix.EPOLLOUT); rerr != nil {
			s.log.Error("failed to rearm write target for output", "error", rerr)
		}
		return
	}

	p.reset()
	if rerr := s.rearmOneShot(s.epfd, sourceFD, unix.EPOLLIN|unix.EPOLLRDHUP); rerr != nil {
		s.log.Error("failed to rearm source fd after drain", "error", rerr)
	}
}
