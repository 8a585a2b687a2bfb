package main

import (
	"fmt"
	"os"

	"github.com/danmuck/presencectl/internal/control"
	"github.com/danmuck/presencectl/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "presencectl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "presencectl",
		Short: "Rich presence daemon and control client",
		Long: `presencectl publishes rich presence to the local Discord client over its
IPC socket and exposes a small HTTP control API for other tools.

Run the daemon with "presencectl run", then drive it with the client
commands (status, set, clear, reply, events).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	root.AddCommand(
		runCmd(),
		statusCmd(),
		setCmd(),
		clearCmd(),
		connectCmd(),
		disconnectCmd(),
		replyCmd(),
		eventsCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), control.Version)
		},
	}
}
