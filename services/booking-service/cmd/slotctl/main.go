// Command slotctl is the operator tool for the booking service: it previews
// schedules offline, queries and books slots over HTTP, and applies migrations.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "slotctl",
		Short:         "Inspect and book appointment slots",
		SilenceUsage:  true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(bookCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func printSlot(w io.Writer, tod, status string) {
	fmt.Fprintf(w, "%s\t%s\n", tod, status)
}
