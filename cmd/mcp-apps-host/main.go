// Command mcp-apps-host is a development host for MCP Apps. It starts a
// backend MCP server over stdio, loads the UI resource of one of its tools and
// serves it to a browser through the double-iframe sandbox.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "mcp-apps-host",
		Short:         "Development host for MCP Apps",
		Long:          "Serves an MCP App tool UI in a sandboxed iframe and bridges it to a backend MCP server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the host configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(cspCmd())
	root.AddCommand(versionCmd())
	return root
}
