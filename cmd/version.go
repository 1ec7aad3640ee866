package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"rembash.dev/rembash/internal/admin"
	"rembash.dev/rembash/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show the client binary's version and, if a server is running, the server's PID`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "rembash version: %s\n", core.FormatVersion(core.Version))

			resp, err := admin.SendCommand(core.GetAdminSocketPath(), "VERSION")
			if err != nil {
				fmt.Fprintln(os.Stderr, "server: not running")
				return
			}
			if resp.Data != nil {
				jsonBytes, _ := json.Marshal(resp.Data)
				var data map[string]string
				if json.Unmarshal(jsonBytes, &data) == nil {
					fmt.Fprintf(os.Stderr, "server pid: %s\n", data["pid"])
				}
			}
		},
	}

	return versionCmd
}
