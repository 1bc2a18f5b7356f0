package main

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/QuangTung97/mmalloc/allocator"
)

func init() {
	rootCmd.AddCommand(newScenarioCmd())
}

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario",
		Short: "Run the built-in allocation scenarios",
		Long: `The scenario command runs two fixed checks against a fresh first fit allocator:
a 100 byte block freed and allocated again lands at the same address, and
after four 900 byte blocks the two middle ones coalesce into room for 1700 bytes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.OutOrStdout())
		},
	}
}

func runScenarios(out io.Writer) error {
	if err := roundTripScenario(newAllocator()); err != nil {
		return errors.Wrap(err, "round trip")
	}
	fmt.Fprintln(out, "round trip: ok")

	if err := coalesceScenario(newAllocator()); err != nil {
		return errors.Wrap(err, "coalesce")
	}
	fmt.Fprintln(out, "coalesce: ok")
	return nil
}

func roundTripScenario(a *allocator.Allocator) error {
	first := a.FirstFit(100)
	if first == nil {
		return allocator.ErrOutOfMemory
	}
	a.Free(first)

	second := a.FirstFit(100)
	if second == nil {
		return allocator.ErrOutOfMemory
	}
	if &first[0] != &second[0] {
		return errors.New("second allocation moved")
	}
	a.Free(second)
	return a.Validate()
}

func coalesceScenario(a *allocator.Allocator) error {
	var blocks [4][]byte
	for i := range blocks {
		blocks[i] = a.FirstFit(900)
		if blocks[i] == nil {
			return errors.Wrapf(allocator.ErrOutOfMemory, "block %d", i)
		}
	}

	a.Free(blocks[1])
	a.Free(blocks[2])

	big := a.FirstFit(1700)
	if big == nil {
		return errors.New("middle blocks did not coalesce")
	}
	if &big[0] != &blocks[1][0] {
		return errors.New("coalesced block does not start at the second block")
	}

	a.Free(big)
	a.Free(blocks[0])
	a.Free(blocks[3])
	return a.Validate()
}
