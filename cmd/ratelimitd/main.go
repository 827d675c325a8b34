// Command ratelimitd runs a small demo gateway that fronts the common
// endpoint classes of a messaging platform with the ratelimit library.
// It exists to exercise the full wiring (policy registry, store selection,
// middleware, logging) in one runnable binary.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ratelimitd",
		Short:        "Demo gateway for the ratelimit library",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	return root
}
