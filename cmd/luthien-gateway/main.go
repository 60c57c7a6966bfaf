// Command luthien-gateway runs the Luthien LLM gateway: a policy-engine
// proxy sitting between AI coding agents and upstream LLM providers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "luthien-gateway",
		Short:         "Luthien LLM gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(buildServeCmd(), buildHealthcheckCmd())
	return cmd
}
