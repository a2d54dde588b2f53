package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/moneymentor/mentor"
	"github.com/moneymentor/mentor/internal/adapters/mcp"
	"github.com/moneymentor/mentor/internal/config"
	"github.com/moneymentor/mentor/internal/logging"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the session backend as an MCP Server over stdio.
This allows AI agents to manage learner sessions as tools.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}

		// Logs go to stderr so they don't corrupt JSON-RPC on stdout.
		logger := logging.New(slog.LevelDebug)

		app, err := mentor.New(cfg, mentor.WithLogger(logger))
		if err != nil {
			log.Fatalf("Error initializing mentor: %v", err)
		}
		defer app.Close()

		log.SetOutput(os.Stderr)
		logger.Info("Starting Mentor MCP Server (Stdio)...")

		srv := mcp.NewServer(app.Sessions)
		if err := srv.ServeStdio(); err != nil {
			logger.Error("MCP Server execution failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
