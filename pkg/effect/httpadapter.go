package effect

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// HTTPAdapter delivers Webhook and RelayOut effects over HTTP with
// exponential-backoff retry, matching spec §4.8's policy: 100ms·2^k up to
// 5 retries on network error or 5xx, 4xx terminal.
//
// Grounded on the teacher's resiliency.EnhancedClient retry loop
// (pkg/util/resiliency/client.go); the circuit-breaker state machine is
// dropped since spec §4.8 does not name backpressure, only retry.
type HTTPAdapter struct {
	client     *http.Client
	maxRetries int
	limiter    Limiter
}

// NewHTTPAdapter builds an adapter with the spec's fixed retry policy. A
// nil limiter disables local rate limiting.
func NewHTTPAdapter(limiter Limiter) *HTTPAdapter {
	return &HTTPAdapter{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 5,
		limiter:    limiter,
	}
}

// Send posts body to url, attaching an Idempotency-Key derived from
// runKey and, when hmacSecret is non-empty, an X-UBL-Signature header
// over the HMAC-SHA256 of the body.
func (a *HTTPAdapter) Send(ctx context.Context, url string, body []byte, runKey [32]byte, hmacSecret string, terminalCode errs.Code) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return errs.New(terminalCode, "effect: rate limiter wait failed: %v", err)
		}
	}

	idemKey := canon.EncodeHex(runKey[:])

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errs.New(terminalCode, "effect: building request failed: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idemKey)
		if hmacSecret != "" {
			req.Header.Set("X-UBL-Signature", "sha256="+signHMAC(hmacSecret, body))
		}

		resp, err := a.client.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode < 300 {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				io.Copy(io.Discard, resp.Body)
				return errs.New(terminalCode, "effect: http %d from %s (terminal)", resp.StatusCode, url)
			}
			lastErr = errs.New(terminalCode, "effect: http %d from %s", resp.StatusCode, url)
			io.Copy(io.Discard, resp.Body)
		} else {
			lastErr = err
		}

		if attempt == a.maxRetries {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errs.New(terminalCode, "effect: exhausted %d retries against %s: %v", a.maxRetries, url, lastErr)
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
