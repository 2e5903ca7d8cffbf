package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/view"
)

func runEncodeCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 2
	}

	cb, err := view.ToCanonBytes(view.NewJsonView(raw))
	if err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}

	stdout.Write(canon.Encode(cb.Value()))
	return 0
}

func runDecodeCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 2
	}

	v, err := canon.Decode(raw, nil)
	if err != nil {
		fmt.Fprintf(stderr, "decode: %v\n", err)
		return 1
	}

	jv, err := view.ToJsonView(view.NewCanonBytes(v))
	if err != nil {
		fmt.Fprintf(stderr, "decode: %v\n", err)
		return 1
	}

	stdout.Write(jv.Raw())
	fmt.Fprintln(stdout)
	return 0
}

func runHashCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, err := decodeStdinView(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "hash: %v\n", err)
		return 1
	}

	h := canon.HashValue(v)
	fmt.Fprintln(stdout, canon.EncodeHex(h[:]))
	return 0
}

func runCidCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, err := decodeStdinView(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "cid: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, canon.CID(v))
	return 0
}

// decodeStdinView reads a JSON view from r and converts it to a canon.Value.
func decodeStdinView(r io.Reader) (canon.Value, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return canon.Value{}, err
	}
	cb, err := view.ToCanonBytes(view.NewJsonView(raw))
	if err != nil {
		return canon.Value{}, err
	}
	return cb.Value(), nil
}
