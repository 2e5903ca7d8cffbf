package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapsuleSealThenVerifyRoundTrip(t *testing.T) {
	orig := stdin
	defer func() { stdin = orig }()

	keyPath := filepath.Join(t.TempDir(), "signer.key")

	stdin = strings.NewReader(`{"src":"svc-a","act":"intake.submit","verdict":"ALLOW","body":{"n":1},"has_evidence":true}`)
	var sealed, errOut bytes.Buffer
	code := Run([]string{"nrf1", "capsule", "seal", "-key", keyPath}, &sealed, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var doc capsuleDoc
	require.NoError(t, json.Unmarshal(sealed.Bytes(), &doc))
	require.NotEmpty(t, doc.Kid)
	require.NotEmpty(t, doc.Sig)

	stdin = bytes.NewReader(sealed.Bytes())
	var verifyOut bytes.Buffer
	code = Run([]string{"nrf1", "capsule", "verify", "-kid", doc.Kid}, &verifyOut, &errOut)
	require.Equal(t, 0, code, errOut.String())
	require.Contains(t, verifyOut.String(), "OK")
}

func TestCapsuleVerifyRejectsWrongKid(t *testing.T) {
	orig := stdin
	defer func() { stdin = orig }()
	keyPath := filepath.Join(t.TempDir(), "signer.key")

	stdin = strings.NewReader(`{"src":"svc-a","act":"intake.submit","verdict":"ALLOW","body":{"n":1},"has_evidence":true}`)
	var sealed, errOut bytes.Buffer
	code := Run([]string{"nrf1", "capsule", "seal", "-key", keyPath}, &sealed, &errOut)
	require.Equal(t, 0, code, errOut.String())

	stdin = bytes.NewReader(sealed.Bytes())
	var verifyOut bytes.Buffer
	code = Run([]string{"nrf1", "capsule", "verify", "-kid", strings.Repeat("0", 64)}, &verifyOut, &errOut)
	require.Equal(t, 1, code)
}
