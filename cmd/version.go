package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vircadia/vircadia-world-sub011/internal/build"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.Version)
		},
	}
}
