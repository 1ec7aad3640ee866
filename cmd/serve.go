package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"rembash.dev/rembash/internal/core"
	"rembash.dev/rembash/internal/server"
)

// NewServeCommand runs the admission server in the foreground: THE
// CORE's event loop, blocking until a fatal error or signal.
func NewServeCommand() *cobra.Command {
	var port int
	var secret string
	var secretHash string
	var secretFile string
	var workers int
	var shell string
	var aclPath string
	var handshakeTimeout string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rembash admission server",
		Long:  `Listen for TCP clients, admit them through the shared-secret handshake, and bridge each into an interactive shell over a PTY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, err := time.ParseDuration(core.GetHandshakeTimeout())
			if err != nil {
				return fmt.Errorf("invalid handshake_timeout %q: %w", core.GetHandshakeTimeout(), err)
			}

			srv, err := server.New(server.Config{
				ListenPort:       core.GetListenPort(),
				HandshakeTimeout: timeout,
				WorkerCount:      core.GetWorkerCount(),
				ShellPath:        core.GetShellPath(),
				AdminSocketPath:  core.GetAdminSocketPath(),
				AuditDBPath:      core.GetAuditDBPath(),
				ACLPath:          core.GetACLPath(),
				Secret:           core.GetSecret(),
				SecretHash:       core.GetSecretHash(),
				SecretFilePath:   core.GetSecretFilePath(),
			})
			if err != nil {
				return err
			}

			return srv.Run()
		},
	}

	serveCmd.Flags().IntVar(&port, "port", 4070, "TCP port to listen on")
	serveCmd.Flags().StringVar(&secret, "secret", "", "shared secret clients must present (overrides keyring/config)")
	serveCmd.Flags().StringVar(&secretHash, "secret-hash", "", "bcrypt hash of the shared secret, instead of storing it in plaintext")
	serveCmd.Flags().StringVar(&secretFile, "secret-file", "", "path to a file holding the shared secret; watched for changes and hot-reloaded")
	serveCmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (0 = runtime.NumCPU()*4)")
	serveCmd.Flags().StringVar(&shell, "shell", "", "shell to exec for admitted connections (default: $SHELL or /bin/sh)")
	serveCmd.Flags().StringVar(&aclPath, "acl-path", "", "path to an HCL CIDR allowlist file (default: none, all addresses allowed)")
	serveCmd.Flags().StringVar(&handshakeTimeout, "handshake-timeout", "5s", "time a client has to complete the handshake")

	return serveCmd
}
