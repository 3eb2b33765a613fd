package cmd

import (
	"StepFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the StepFM server",
	Long:  `Run the StepFM HTTP server: session CRUD, sample assets and the live session WebSocket protocol.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
