package metrics

import "testing"

func TestTakeCurrentProcess(t *testing.T) {
	snap, err := Take("127.0.0.1:4070")
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	if snap.PID <= 0 {
		t.Errorf("PID = %d, want > 0", snap.PID)
	}
	if snap.ListenAddr != "127.0.0.1:4070" {
		t.Errorf("ListenAddr = %q, want %q", snap.ListenAddr, "127.0.0.1:4070")
	}
}

func TestSnapshotString(t *testing.T) {
	s := &Snapshot{PID: 123, ListenAddr: "0.0.0.0:4070", RSSBytes: 1 << 20, CPUPercent: 1.5, OpenFDs: 7, ActiveConns: 2}
	got := s.String()
	if got == "" {
		t.Error("String() returned empty string")
	}
}
