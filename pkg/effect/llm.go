package effect

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// LlmProvider invokes a model given a resolved model identifier, prompt,
// and max token budget.
type LlmProvider interface {
	Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error)
}

// LlmCache is a deterministic content-addressed disk cache keyed by
// blake3(model || prompt || max_tokens), per spec §4.8. A hit skips the
// provider entirely.
type LlmCache struct {
	dir string
}

// NewLlmCache builds a cache rooted at dir, creating it if absent.
func NewLlmCache(dir string) (*LlmCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.New(errs.IoStorageFailed, "effect: llm cache dir: %v", err)
	}
	return &LlmCache{dir: dir}, nil
}

// CacheKey computes the deterministic cache key for a completion request.
func CacheKey(model, prompt string, maxTokens int) [32]byte {
	buf := make([]byte, 0, len(model)+len(prompt)+8)
	buf = append(buf, model...)
	buf = append(buf, prompt...)
	buf = appendInt(buf, int64(maxTokens))
	return canon.HashBytes(buf)
}

func appendInt(buf []byte, v int64) []byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return append(buf, b[:]...)
}

func (c *LlmCache) path(key [32]byte) string {
	return filepath.Join(c.dir, canon.EncodeHex(key[:])+".txt")
}

// Get returns the cached completion, if present.
func (c *LlmCache) Get(key [32]byte) (string, bool) {
	b, err := os.ReadFile(c.path(key))
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Put stores a completion under its cache key.
func (c *LlmCache) Put(key [32]byte, completion string) error {
	if err := os.WriteFile(c.path(key), []byte(completion), 0o600); err != nil {
		return errs.New(errs.IoStorageFailed, "effect: llm cache write: %v", err)
	}
	return nil
}

// CachedProvider wraps an LlmProvider with a disk cache, returning
// (completion, cached bool, error).
type CachedProvider struct {
	provider LlmProvider
	cache    *LlmCache
}

// NewCachedProvider pairs a provider with a cache.
func NewCachedProvider(provider LlmProvider, cache *LlmCache) *CachedProvider {
	return &CachedProvider{provider: provider, cache: cache}
}

// Complete returns the cached completion if present, otherwise invokes
// the underlying provider and populates the cache.
func (c *CachedProvider) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, bool, error) {
	key := CacheKey(model, prompt, maxTokens)
	if c.cache != nil {
		if hit, ok := c.cache.Get(key); ok {
			return hit, true, nil
		}
	}
	out, err := c.provider.Complete(ctx, model, prompt, maxTokens)
	if err != nil {
		return "", false, errs.New(errs.IoLlmFailed, "effect: llm provider failed: %v", err)
	}
	if c.cache != nil {
		_ = c.cache.Put(key, out)
	}
	return out, false, nil
}
