package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the host version and supported protocol versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mcp-apps-host %s (protocol %s)\n",
				version, strings.Join(protocol.SupportedProtocolVersions, ", "))
			return err
		},
	}
}
