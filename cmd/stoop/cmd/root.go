package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stoop",
	Short: "Join live audio rooms over a mesh of direct peer connections",
	Long: `stoop is the reference client for live audio rooms ("Stoops"): it
connects to a room's signaling relay, negotiates a direct audio connection
with every other participant, and lets speakers toggle their microphone.`,
}

// Execute runs the root command.
func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
