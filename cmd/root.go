package cmd

import (
	"fmt"
	"os"

	"StepFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stepfm",
	Short: "StepFM is a collaborative step sequencer server.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
