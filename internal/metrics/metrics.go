// Package metrics takes a point-in-time snapshot of the server process
// for the `rembash status` command, grounded on this codebase's own use
// of gopsutil for process/connection introspection (internal/daemon's
// use of gopsutil/v3/net.ConnectionsPid to inspect a managed process).
package metrics

import (
	"fmt"
	"os"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot describes the server process's resource usage and active
// connection count at the moment it was taken.
type Snapshot struct {
	PID           int32
	RSSBytes      uint64
	CPUPercent    float64
	OpenFDs       int32
	ActiveConns   int
	ListenAddr    string
}

// Take captures a Snapshot of the current process (the running server),
// counting every ESTABLISHED TCP connection the process holds.
// listenAddr is recorded in the snapshot as given; connections are not
// filtered by its port.
func Take(listenAddr string) (*Snapshot, error) {
	pid := int32(os.Getpid())

	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("inspect process %d: %w", pid, err)
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("read memory info: %w", err)
	}

	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("read cpu percent: %w", err)
	}

	numFDs, err := proc.NumFDs()
	if err != nil {
		numFDs = -1
	}

	conns, err := psnet.ConnectionsPid("tcp", pid)
	if err != nil {
		return nil, fmt.Errorf("read connections: %w", err)
	}
	established := 0
	for _, c := range conns {
		if c.Status == "ESTABLISHED" {
			established++
		}
	}

	return &Snapshot{
		PID:         pid,
		RSSBytes:    mem.RSS,
		CPUPercent:  cpuPct,
		OpenFDs:     numFDs,
		ActiveConns: established,
		ListenAddr:  listenAddr,
	}, nil
}

// String renders the snapshot for human-readable `rembash status` output.
func (s *Snapshot) String() string {
	return fmt.Sprintf(
		"pid=%d listen=%s rss=%.1fMiB cpu=%.1f%% open_fds=%d active_conns=%d",
		s.PID, s.ListenAddr, float64(s.RSSBytes)/(1<<20), s.CPUPercent, s.OpenFDs, s.ActiveConns,
	)
}
