package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hubgrep/hubgrep-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "hubgrep",
		Short: "Semantic code search MCP server",
		Long: "hubgrep indexes source repositories into a hub-aware vector index\n" +
			"and serves semantic search tools over the Model Context Protocol.",
		// Running the bare binary serves on stdio, which is what MCP
		// clients expect to spawn.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hubgrep %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		},
	}

	root.AddCommand(serveCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
