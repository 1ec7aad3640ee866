package server

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// formatSockaddr renders a unix.Sockaddr as "ip:port" for logging and
// audit records.
func formatSockaddr(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return fmt.Sprintf("%s:%d", ip.String(), v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip.String(), v.Port)
	default:
		return "unknown"
	}
}

// sockaddrToNetAddr converts a unix.Sockaddr into the *net.TCPAddr the
// acl package's Allowed check expects.
func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}
