package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mentord",
	Short: "Mentord is a conversational education backend",
	Long: `Mentord serves learner sessions from an in-memory cache with
write-behind persistence to a durable store (memory, redis or file).`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// A .env file is optional; environment overrides still apply without one.
	_ = godotenv.Load()

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
}
