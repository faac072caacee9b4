// Command bridgectl is the operator CLI for the bridge: status checks,
// queue inspection, on-demand/scheduled recovery runs, and process
// definition/instance management (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/vlikhobabin/camunda-bridge/cmd/bridgectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
