package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"rembash.dev/rembash/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "rembash",
		Short: "rembash - remote shell admission server",
		Long:  `rembash admits TCP clients through a shared-secret handshake and bridges each into an interactive shell over a PTY.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			messages, err := core.InitializeConfig(cmd)
			for _, message := range messages {
				fmt.Println(message)
			}
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if verbose > 0 {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(
				tint.NewHandler(os.Stderr, &tint.Options{
					Level:      level,
					TimeFormat: time.DateTime,
				}),
			))

			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewServeCommand(),
		NewStatusCommand(),
		NewClientCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
