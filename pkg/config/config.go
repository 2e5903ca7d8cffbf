// Package config loads daemon and CLI configuration from environment
// variables, in the teacher's os.Getenv-with-defaults style
// (pkg/config/config.go), generalized from a single HTTP-service
// config to the settings nrf1d's pipeline runtime, effect dispatcher,
// and permit surface need.
package config

import "os"

// Config holds nrf1d's runtime configuration.
type Config struct {
	Port             string
	LogLevel         string
	DatabaseURL      string
	DatabaseDriver   string // "sqlite" or "postgres"
	RedisURL         string
	OTLPEndpoint     string
	ObservabilityOn  bool
	JWTSigningSecret string
	HMACRootSecret   string
	SignerKeyPath    string
	StorageBackend   string // "s3", "gcs", or "" (disabled)
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	GCSBucket        string
	LlmCacheDir      string
	ManifestDir      string
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads Config from the process environment, filling in the same
// kind of locally-runnable defaults the teacher's Load uses (a default
// database DSN and service URL that work against a developer's own
// stack, not production credentials).
func Load() *Config {
	return &Config{
		Port:             getenvDefault("NRF1_PORT", "8080"),
		LogLevel:         getenvDefault("NRF1_LOG_LEVEL", "INFO"),
		DatabaseURL:      getenvDefault("NRF1_DATABASE_URL", "file:nrf1-permit.db?cache=shared"),
		DatabaseDriver:   getenvDefault("NRF1_DATABASE_DRIVER", "sqlite"),
		RedisURL:         getenvDefault("NRF1_REDIS_URL", ""),
		OTLPEndpoint:     getenvDefault("NRF1_OTLP_ENDPOINT", "localhost:4317"),
		ObservabilityOn:  os.Getenv("NRF1_OBSERVABILITY_ENABLED") == "true",
		JWTSigningSecret: os.Getenv("NRF1_JWT_SECRET"),
		HMACRootSecret:   os.Getenv("NRF1_HMAC_ROOT_SECRET"),
		SignerKeyPath:    getenvDefault("NRF1_SIGNER_KEY_PATH", "nrf1-signer.key"),
		StorageBackend:   getenvDefault("NRF1_STORAGE_BACKEND", ""),
		S3Bucket:         os.Getenv("NRF1_S3_BUCKET"),
		S3Region:         getenvDefault("NRF1_S3_REGION", "us-east-1"),
		S3Endpoint:       os.Getenv("NRF1_S3_ENDPOINT"),
		GCSBucket:        os.Getenv("NRF1_GCS_BUCKET"),
		LlmCacheDir:      getenvDefault("NRF1_LLM_CACHE_DIR", ".nrf1/llm-cache"),
		ManifestDir:      getenvDefault("NRF1_MANIFEST_DIR", "manifests"),
	}
}
