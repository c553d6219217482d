// Command aria runs the personal assistant: Telegram channel, message
// pipeline, proactive scheduler, and the admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindloop/aria/internal/logging"
)

var version = "dev"

func main() {
	var (
		configPath string
		quiet      bool
	)

	rootCmd := &cobra.Command{
		Use:           "aria",
		Short:         "Aria personal assistant",
		Long:          "Aria is a proactive personal assistant for tasks, calendar, email, memory, and notes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if quiet {
				logging.Disable()
			}
			return serve(cmd.Context(), configPath)
		},
	}
	rootCmd.AddCommand(serveCmd)

	// Bare invocation serves, matching how the binary runs under systemd
	rootCmd.RunE = serveCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
