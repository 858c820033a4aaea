package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	defaultGatewayURL = "http://127.0.0.1:5173"
	tokenEnv          = "CONTROL_API_TOKEN"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openclaw-gateway",
		Short: "OpenClaw control channel gateway",
		Long: "Runs the control channel that lets an OpenClaw agent drive the avatar viewer, " +
			"and provides client commands to post, write and consume control commands.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newWriteCmd())
	cmd.AddCommand(newAgentCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "openclaw-gateway %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
