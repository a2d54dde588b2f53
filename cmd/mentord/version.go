package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moneymentor/mentor"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mentord",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mentord version %s\n", mentor.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
