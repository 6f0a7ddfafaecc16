package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "whisper-listen %s (%s)\n", g.version, g.commit)
			if g.verbose {
				fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
				fmt.Fprintf(out, "  config: %s\n", g.resolvedConfigPath())
			}
		},
	}
}
