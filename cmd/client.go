package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewClientCommand implements spec.md §6's external-collaborator
// reference client: it performs the client half of the handshake, then
// puts the local terminal into raw mode and relays bytes between
// stdio and the socket until either side closes.
func NewClientCommand() *cobra.Command {
	var secret string

	clientCmd := &cobra.Command{
		Use:   "client <host:port>",
		Short: "Connect to a rembash server and attach an interactive shell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(args[0], secret)
		},
	}
	clientCmd.Flags().StringVar(&secret, "secret", "", "shared secret to present during the handshake")
	clientCmd.MarkFlagRequired("secret")

	return clientCmd
}

func runClient(addr, secret string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	greeting, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if greeting != "<rembash>\n" {
		return fmt.Errorf("unexpected greeting: %q", greeting)
	}

	if _, err := fmt.Fprintf(conn, "<%s>\n", secret); err != nil {
		return fmt.Errorf("send secret: %w", err)
	}

	reply, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read handshake reply: %w", err)
	}
	if reply != "<ok>\n" {
		return fmt.Errorf("handshake rejected: %s", reply)
	}

	stdinFD := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(stdinFD)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer term.Restore(stdinFD, oldState)

	done := make(chan error, 2)

	go func() {
		_, err := io.Copy(os.Stdout, reader)
		done <- err
	}()
	go func() {
		_, err := io.Copy(conn, os.Stdin)
		done <- err
	}()

	// A terminating signal ends the session through the same return
	// path, so the deferred term.Restore still runs.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-done:
	case <-sigCh:
	}
	return nil
}
