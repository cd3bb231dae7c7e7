// Command opcov analyzes branch coverage for the opcov bytecode ISA: it can
// execute a scenario through the reference VM and report which required
// control-flow edges fired, or coalesce previously recorded snapshots
// together.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
