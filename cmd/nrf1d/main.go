// Command nrf1d is the long-running daemon: it runs the pipeline runtime
// behind an effect dispatcher wired to real adapters, serves the consent
// ticket HTTP surface, and drives the resume watcher that re-enters
// paused runs once a ticket closes.
//
// Grounded on the teacher's cmd/helm-node/main.go Run(args, stdout,
// stderr) int dispatcher defaulting to "server", and its runServer
// wiring order: connect infra, build the kernel layers, register HTTP
// routes, then block on a shutdown signal.
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the daemon's entry point, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServerCmd(stdout, stderr)
	}

	switch args[1] {
	case "server":
		return runServerCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	io.WriteString(w, "nrf1d - consent-ticket daemon\n\n")
	io.WriteString(w, "USAGE:\n  nrf1d [server]\n\n")
	io.WriteString(w, "Configuration is read from the environment (NRF1_*); see pkg/config.\n")
}
