package cmd

import (
	"fmt"
	"os"

	"StepFM/config"
	"StepFM/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check Redis connectivity",
	Long:  `Connect to Redis with the configured credentials and run a round-trip set/get/del check.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		if err := db.ConnectRedis(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Redis connection failed: %v\n", err)
			os.Exit(1)
		}
		defer db.CloseRedis()

		if err := db.TestRedis(); err != nil {
			fmt.Fprintf(os.Stderr, "Redis check failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Redis connection OK")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
