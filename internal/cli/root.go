// Package cli wires the cute-shm command line: load a hierarchical
// dataset file into a named shared-memory project, list published
// projects, and unlink them.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cuteshm "github.com/MPI-IS/cute-shm"
)

const envPrefix = "CUTE_SHM_"

var (
	rootDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "cute-shm",
	Short:         "Share nested numeric arrays between processes through shared memory",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "catalog root directory (default $CUTE_SHM_ROOT or "+cuteshm.DefaultRoot+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// resolveRoot picks the catalog root: flag, then CUTE_SHM_ROOT from
// the environment, then the built-in default.
func resolveRoot() string {
	if rootDir != "" {
		return rootDir
	}
	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err == nil {
		if r := k.String("root"); r != "" {
			return r
		}
	}
	return cuteshm.DefaultRoot
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newManager() *cuteshm.Manager {
	return cuteshm.New(
		cuteshm.WithRoot(resolveRoot()),
		cuteshm.WithLogger(newLogger()),
	)
}

// Execute runs the CLI. Expected, structured errors come out as a
// single stderr line and a non-zero exit status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
