// Package gutterctl is a Cobra CLI that exercises GutteringSystem end to
// end: running a named scenario from internal/genconf, or validating a
// buffering.conf file without starting a system.
//
// Grounded on the teacher's cmd package (cmd/mount.go): a package-level
// rootCmd built in an init()-registered var, subcommands added via their
// own init(), and an exported Execute that prints and exits non-zero on
// error.
package gutterctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gutterctl",
	Short: "gutterctl drives the cache-aware graph-update buffering system",
}

// Execute runs the root command. A panic from an invariant violation deep
// in the system is caught here and reported like any other fatal error,
// matching the original's fatal-assert behavior at the process boundary.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
