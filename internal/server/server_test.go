package server

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// freePort grabs an ephemeral TCP port from the OS and releases it
// immediately; there is an inherent TOCTOU race, but it is the same
// idiom the standard library's own net/http tests use.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T, cfg Config) (*Server, int) {
	t.Helper()
	port := freePort(t)
	cfg.ListenPort = port
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 2 * time.Second
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/bin/sh"
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	t.Cleanup(srv.Close)

	// Poll until the listener accepts connections instead of sleeping a
	// fixed duration: Run's setup (socket, epoll, worker pool) happens
	// in its own goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addrFor(port), 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return srv, port
		}
		select {
		case runErr := <-errCh:
			t.Fatalf("server exited early: %v", runErr)
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never started listening")
	return nil, 0
}

func addrFor(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func TestHandshakeAndShellEcho(t *testing.T) {
	_, port := startTestServer(t, Config{Secret: "cs407rembash"})

	conn, err := net.DialTimeout("tcp", addrFor(port), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	greeting, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting != "<rembash>\n" {
		t.Fatalf("greeting = %q, want <rembash>\\n", greeting)
	}

	if _, err := conn.Write([]byte("<cs407rembash>\n")); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if reply != "<ok>\n" {
		t.Fatalf("reply = %q, want <ok>\\n", reply)
	}

	if _, err := conn.Write([]byte("echo hello_from_shell\n")); err != nil {
		t.Fatalf("write command: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	found := false
	for i := 0; i < 20 && !found; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "hello_from_shell") {
			found = true
		}
	}
	if !found {
		t.Error("never observed shell echo of the sent command")
	}
}

func TestHandshakeRejectsWrongSecret(t *testing.T) {
	_, port := startTestServer(t, Config{Secret: "cs407rembash"})

	conn, err := net.DialTimeout("tcp", addrFor(port), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if _, err := conn.Write([]byte("<wrong-secret>\n")); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if reply != "<error>\n" {
		t.Fatalf("reply = %q, want <error>\\n", reply)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to close after rejection, got %d more bytes", n)
	}
}

func TestHandshakeTimesOutSilentClient(t *testing.T) {
	_, port := startTestServer(t, Config{
		Secret:           "cs407rembash",
		HandshakeTimeout: 300 * time.Millisecond,
	})

	conn, err := net.DialTimeout("tcp", addrFor(port), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	// Say nothing; the handshake timer should tear the connection down.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to close on handshake timeout, got %d more bytes", n)
	}
}

func TestACLRejectsDisallowedAddress(t *testing.T) {
	dir := t.TempDir()
	aclPath := dir + "/acl.hcl"
	writeFile(t, aclPath, `allow "none" {
  cidr = "10.0.0.0/8"
}
`)

	_, port := startTestServer(t, Config{
		Secret:  "cs407rembash",
		ACLPath: aclPath,
	})

	conn, err := net.DialTimeout("tcp", addrFor(port), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// 127.0.0.1 isn't in 10.0.0.0/8, so the acceptor should close the
	// socket before ever writing the greeting.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection rejected by acl, got %d bytes", n)
	}
}

func TestConcurrentClientsAreIndependent(t *testing.T) {
	_, port := startTestServer(t, Config{Secret: "cs407rembash"})

	const clients = 5
	done := make(chan error, clients)

	for i := 0; i < clients; i++ {
		go func() {
			conn, err := net.DialTimeout("tcp", addrFor(port), time.Second)
			if err != nil {
				done <- err
				return
			}
			defer conn.Close()

			reader := bufio.NewReader(conn)
			if _, err := reader.ReadString('\n'); err != nil {
				done <- err
				return
			}
			if _, err := conn.Write([]byte("<cs407rembash>\n")); err != nil {
				done <- err
				return
			}
			reply, err := reader.ReadString('\n')
			if err != nil {
				done <- err
				return
			}
			if reply != "<ok>\n" {
				done <- errBadReply
				return
			}
			done <- nil
		}()
	}

	for i := 0; i < clients; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("client failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for concurrent clients")
		}
	}
}

var errBadReply = errString("unexpected handshake reply")

type errString string

func (e errString) Error() string { return string(e) }

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
