package main

import (
	"github.com/spf13/cobra"

	"nettaskd/cmd/nettaskd/cmd/agent"
)

func agentCommand() *cobra.Command {
	var port int
	var logLevel string

	cmd := &cobra.Command{
		Use:   "agent <server_host> <deviceID>",
		Short: "Run the NetTask/AlertFlow agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := withLogger(cmd.Context(), logLevel)
			serverHost, deviceID := args[0], args[1]
			return agent.Run(ctx, serverHost, deviceID, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "local UDP port to bind (0 = OS-assigned)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	return cmd
}
