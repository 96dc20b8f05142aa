package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/dlib/dlog"
)

func main() {
	ctx := context.Background()

	cmd := &cobra.Command{
		Use:           "nettaskd",
		Short:         "NetTask/AlertFlow network monitoring agent and server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.AddCommand(agentCommand())
	cmd.AddCommand(serverCommand())

	if err := cmd.ExecuteContext(ctx); err != nil {
		dlog.Errorf(ctx, "%s: error: %v", cmd.CommandPath(), err)
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", cmd.CommandPath(), err)
		os.Exit(1)
	}
}
