// Command waterfall splits, encrypts, and uploads a file (or directory
// tree) through a bounded chat-attachment API as a sequence of fixed-size
// containers, and reassembles it again via ranged downloads.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cascadefs/waterfall/internal/errors"
)

func init() {
	// set GOMAXPROCS from the container CPU quota; no Logger option is
	// passed, so automaxprocs prints nothing.
	_, _ = maxprocs.Set()
}

var version = "0.1.0-dev"

var cmdRoot = &cobra.Command{
	Use:           "waterfall",
	Short:         "Upload and download large files through a bounded attachment API",
	SilenceErrors: true,
	SilenceUsage:  true,

	PersistentPreRunE: func(c *cobra.Command, _ []string) error {
		return startProfiling(globalOptions)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		stopProfiling()
	},
}

var activeProfile interface {
	Stop()
}

func startProfiling(opts GlobalOptions) error {
	if opts.CPUProfile != "" && opts.MemProfile != "" {
		return errors.Fatal("only one profile (memory or CPU) may be activated at the same time")
	}

	switch {
	case opts.CPUProfile != "":
		activeProfile = profile.Start(profile.Quiet, profile.NoShutdownHook, profile.CPUProfile, profile.ProfilePath(opts.CPUProfile))
	case opts.MemProfile != "":
		activeProfile = profile.Start(profile.Quiet, profile.NoShutdownHook, profile.MemProfile, profile.ProfilePath(opts.MemProfile))
	}
	return nil
}

func stopProfiling() {
	if activeProfile != nil {
		activeProfile.Stop()
	}
}

func init() {
	globalOptions.AddFlags(cmdRoot.PersistentFlags())
	cmdRoot.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(globalOptions.stdout, "waterfall %s\n", version)
		},
	})
}

func main() {
	err := cmdRoot.Execute()

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.IsFatal(err):
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		exitCode = 1
	}

	os.Exit(exitCode)
}
