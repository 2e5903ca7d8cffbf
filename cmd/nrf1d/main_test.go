package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunHelpPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"nrf1d", "help"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "nrf1d")
}

func TestRunUnknownSubcommandReturnsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"nrf1d", "bogus"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.NotEmpty(t, stderr.String())
}
