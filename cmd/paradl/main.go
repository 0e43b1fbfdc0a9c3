// Command paradl is the operator-facing CLI for the download engine, built
// with spf13/cobra (mirroring the pack's CLI shape in
// guiyumin-vget/internal/cli) on top of the charmbracelet/bubbletea progress
// display that replaces the teacher engine's UDMProgressBar.go polling loop
// with an event-subscriber table.
package main

import (
	"fmt"
	"os"

	"paradl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "paradl:", err)
		os.Exit(1)
	}
}
