// Command smartfan drives a presence-triggered fan: a coordinator that holds
// the desired state, a decision engine that turns detector output into
// submissions, and a reference actuator that polls and switches a relay.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "smartfan: %v\n", err)
		os.Exit(1)
	}
}
