package server

import (
	"os/signal"
	"syscall"
)

// installSignalPolicy ignores SIGPIPE so that a client disconnecting
// mid-write cannot terminate the process (spec.md §4.1 step 1). Go
// itself reaps children via os/exec's Wait rather than a SIGCHLD
// handler — see pty.go's waitAndReap, which plays the role of the
// original design's "discard SIGCHLD" auto-reap without requiring a
// signal-disposition change that would race with the runtime's own use
// of SIGCHLD on some platforms.
func installSignalPolicy() {
	signal.Ignore(syscall.SIGPIPE)
}
