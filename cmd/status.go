package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"rembash.dev/rembash/internal/admin"
	"rembash.dev/rembash/internal/core"
)

// NewStatusCommand queries a running server's admin socket for a
// resource-usage snapshot, following this codebase's own
// connect-write-command-read-JSON pattern for talking to a background
// process over a Unix socket.
func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running server's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := admin.SendCommand(core.GetAdminSocketPath(), "STATUS")
			if err != nil {
				fmt.Fprintln(os.Stderr, "rembash: not running (or admin socket unavailable)")
				return err
			}
			for _, m := range resp.Messages {
				fmt.Println(m.Text)
			}
			return nil
		},
	}
	return statusCmd
}
