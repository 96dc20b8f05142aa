package main

import (
	"github.com/spf13/cobra"

	"nettaskd/cmd/nettaskd/cmd/server"
)

func serverCommand() *cobra.Command {
	var configPath string
	var logsDir string
	var logLevel string
	var host string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the NetTask/AlertFlow server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := withLogger(cmd.Context(), logLevel)
			srv, err := server.New(host, configPath, logsDir)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind the entry listener and per-device workers to")
	cmd.Flags().StringVar(&configPath, "config", "tasks.json", "path to the task configuration file")
	cmd.Flags().StringVar(&logsDir, "logs-dir", "logs", "directory to persist per-device report and alert logs under")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	return cmd
}
