// Command nrf1 is the operator CLI for the canonical codec, capsule
// seals, pipeline manifests, and consent tickets: encode/decode/hash/cid
// over the wire format, capsule seal/verify, pipeline run, and permit
// approve/deny against a running nrf1d.
//
// Grounded on the teacher's cmd/helm dispatch style (cmd/helm/main.go):
// a single Run(args, stdout, stderr) int entry point switching on
// args[1], each subcommand its own flag.FlagSet, exit code 2 for usage
// errors.
package main

import (
	"fmt"
	"io"
	"os"
)

// stdin is the input stream subcommands read from; swapped out in tests.
var stdin io.Reader = os.Stdin

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entry point, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "encode":
		return runEncodeCmd(args[2:], stdout, stderr)
	case "decode":
		return runDecodeCmd(args[2:], stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "cid":
		return runCidCmd(args[2:], stdout, stderr)
	case "capsule":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: nrf1 capsule <seal|verify> [flags]")
			return 2
		}
		return runCapsuleCmd(args[2], args[3:], stdout, stderr)
	case "pipeline":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: nrf1 pipeline <run> [flags]")
			return 2
		}
		return runPipelineCmd(args[2], args[3:], stdout, stderr)
	case "permit":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: nrf1 permit <approve|deny> <ticket-id> [flags]")
			return 2
		}
		return runPermitCmd(args[2], args[3:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "nrf1 - canonical capsule/pipeline tooling")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  nrf1 <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "CODEC:")
	fmt.Fprintln(w, "  encode         JSON view (stdin) -> canonical wire bytes (stdout)")
	fmt.Fprintln(w, "  decode         canonical wire bytes (stdin) -> JSON view (stdout)")
	fmt.Fprintln(w, "  hash           print the BLAKE3 digest of a JSON view's canonical form")
	fmt.Fprintln(w, "  cid            print the \"b3:<hex>\" content identifier")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "CAPSULE:")
	fmt.Fprintln(w, "  capsule seal   build and sign a capsule from a JSON description")
	fmt.Fprintln(w, "  capsule verify verify a sealed capsule's seal and receipt chain")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "PIPELINE:")
	fmt.Fprintln(w, "  pipeline run   run a manifest against a JSON view environment (stdin)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "PERMIT:")
	fmt.Fprintln(w, "  permit approve approve a consent ticket via a running nrf1d")
	fmt.Fprintln(w, "  permit deny    deny a consent ticket via a running nrf1d")
}
