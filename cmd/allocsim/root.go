package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/QuangTung97/mmalloc/allocator"
)

var (
	// Global flags
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "allocsim",
	Short: "Drive the mmalloc strategies from allocation traces",
	Long: `allocsim runs allocation traces against the first, next, best, worst fit
and buddy allocators and prints the resulting block layout of each region.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every ignored free")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final layout")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes allocator diagnostics to stderr, debug level when verbose.
func newLogger() *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	conf := zap.NewDevelopmentConfig()
	conf.Level = zap.NewAtomicLevelAt(level)
	conf.DisableStacktrace = true
	logger, err := conf.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newAllocator() *allocator.Allocator {
	return allocator.New(allocator.Config{Logger: newLogger()})
}
