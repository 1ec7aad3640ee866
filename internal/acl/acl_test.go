package acl

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileAllowsAll(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "does-not-exist.hcl"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("203.0.113.5")}
	if !l.Allowed(addr) {
		t.Error("expected no-file List to allow every address")
	}
}

func TestLoadAndAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acl.hcl")
	contents := `
allow "office" {
  cidr = "10.0.0.0/24"
}
allow "vpn" {
  cidr = "172.16.0.0/16"
}
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write acl file: %v", err)
	}

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cases := []struct {
		ip    string
		allow bool
	}{
		{"10.0.0.5", true},
		{"172.16.9.9", true},
		{"8.8.8.8", false},
	}
	for _, c := range cases {
		addr := &net.TCPAddr{IP: net.ParseIP(c.ip)}
		if got := l.Allowed(addr); got != c.allow {
			t.Errorf("Allowed(%s) = %v, want %v", c.ip, got, c.allow)
		}
	}
}

func TestLoadRejectsInvalidCIDR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acl.hcl")
	contents := `
allow "bad" {
  cidr = "not-a-cidr"
}
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write acl file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid CIDR entry")
	}
}
