// Command ercoordctl is the operator-facing CLI for the ER coordinator
// library: it drives scheme/set lifecycle by hand, checks a set's
// health for Nagios-style monitoring, diagnoses divergent state-file
// replicas, and watches a configured fleet of sets for stuck rebuilds.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
