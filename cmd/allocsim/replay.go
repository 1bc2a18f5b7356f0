package main

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newReplayCmd())
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [trace]",
		Short: "Replay an allocation trace",
		Long: `The replay command reads an allocation trace, one operation per line,
from the given file or from stdin.

  alloc <first|next|best|worst|buddy> <size> <name>
  free <name>
  dump

Sizes accept units such as 1KiB. Text after # is ignored.

Example:
  allocsim replay trace.txt
  echo "alloc buddy 100 a" | allocsim replay`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "open trace")
				}
				defer f.Close()
				in = f
			}
			return runReplay(in, cmd.OutOrStdout())
		},
	}
	return cmd
}

func runReplay(in io.Reader, out io.Writer) error {
	sim := newSimulator(newAllocator(), out, quiet)
	if err := sim.run(in); err != nil {
		return err
	}
	sim.dump()
	return nil
}
