// Command os161go boots the simulated kernel: bring up the configured
// number of CPUs, attach the configured devices, designate the boot
// filesystem device, and idle. No filesystem driver is wired up, so no
// device is mounted. It also exposes an fsck-style subcommand that runs
// the sync and unmount-all passes without booting, the same split a real
// kernel's boot loader vs. standalone fsck utility would have.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "os161go",
		Short: "A Go port of OS/161's machine-independent kernel core",
	}
	root.AddCommand(newBootCmd())
	root.AddCommand(newFsckCmd())
	return root
}
