package server

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// commissionShell implements spec.md §4.5: allocate a PTY, fork a
// session-leader child whose controlling terminal is the PTY slave,
// and exec an interactive shell there. creack/pty's Open already
// performs the unlockpt/ptsname dance and hands back master and slave
// as already-opened *os.File values, which is this codebase's own way
// of avoiding the "slave-name buffer aliasing" hazard spec.md §9 warns
// about — the path is never re-read from a shared kernel buffer.
func (s *Server) commissionShell(conn *Connection) error {
	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}

	masterFD := int(master.Fd())
	if err := unix.SetNonblock(masterFD, true); err != nil {
		master.Close()
		slave.Close()
		return fmt.Errorf("set master nonblocking: %w", err)
	}

	shellPath := s.cfg.ShellPath
	if shellPath == "" {
		shellPath = resolveShell()
	}

	cmd := exec.Command(shellPath)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	// Setsid makes the child a session leader; Setctty+Ctty:0 makes
	// the slave (cmd.Stdin, the first entry in the child's file table)
	// its controlling terminal, so it behaves as an interactive shell
	// would when attached directly to a terminal device.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	// The parent has no further use for the slave once the child holds
	// it; closing it here does not affect the child's already-duped copy.
	slave.Close()

	conn.masterFD = masterFD
	conn.shellPID = cmd.Process.Pid

	s.desc.set(conn.clientFD, masterFD, conn)
	s.desc.set(masterFD, conn.clientFD, conn)

	if err := s.armOneShot(s.epfd, masterFD, unix.EPOLLIN|unix.EPOLLRDHUP); err != nil {
		return fmt.Errorf("register master fd: %w", err)
	}

	// Auto-reap: spec.md §4.5 has the parent not wait and rely on
	// discarded SIGCHLD; in Go the equivalent that doesn't fight the
	// runtime's own SIGCHLD usage is to reap in a goroutine that
	// doesn't block the event loop or worker pool.
	go waitAndReap(cmd)

	return nil
}

// waitAndReap releases the shell process's resources once it exits,
// without blocking any worker or the event-loop thread.
func waitAndReap(cmd *exec.Cmd) {
	cmd.Wait()
}

// resolveShell mirrors a login shell's own resolution order: the
// invoking user's $SHELL, falling back to /bin/sh.
func resolveShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
