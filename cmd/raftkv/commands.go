package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "raftkv",
		Short: "Replicated key-value store built on Raft",
		Long: `raftkv runs one member of a statically configured Raft cluster that
replicates a key-value state machine.

Every member reads the same peer list from its configuration file and is
told which entry it is through node.id (or RAFTKV_NODE_ID).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}
