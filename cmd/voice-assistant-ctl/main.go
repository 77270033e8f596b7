// Command voice-assistant-ctl controls a running voice-assistant over its
// HTTP API.
//
// Usage:
//
//	voice-assistant-ctl [--addr URL] <command> [args]
//
// Commands:
//
//	status  - print whether the assistant is listening
//	toggle  - flip listening on or off
//	on      - start listening
//	off     - stop listening
//	ask     - answer a typed question without speaking it
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
