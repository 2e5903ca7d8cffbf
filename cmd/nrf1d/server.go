package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capabilities/stdcaps"
	"github.com/nrf1proto/capsule/pkg/config"
	"github.com/nrf1proto/capsule/pkg/effect"
	"github.com/nrf1proto/capsule/pkg/effect/storage"
	"github.com/nrf1proto/capsule/pkg/observability"
	"github.com/nrf1proto/capsule/pkg/permit"
	"github.com/nrf1proto/capsule/pkg/permit/httpapi"
	"github.com/nrf1proto/capsule/pkg/permit/sqlstore"
	"github.com/nrf1proto/capsule/pkg/pipeline"
	"github.com/nrf1proto/capsule/pkg/registry"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

func runServerCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()

	obs, err := observability.New(context.Background(), &observability.Config{
		ServiceName:    "nrf1d",
		ServiceVersion: "0.1.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.ObservabilityOn,
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "nrf1d: observability init failed: %v\n", err)
		return 1
	}
	logger := obs.Logger()

	driverName, dialect := sqlDriver(cfg.DatabaseDriver)
	db, err := sql.Open(driverName, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "nrf1d: open database: %v\n", err)
		return 1
	}
	defer db.Close()
	if err := db.PingContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "nrf1d: ping database: %v\n", err)
		return 1
	}
	logger.Info("database connected", "driver", driverName)

	ticketStore, err := sqlstore.New(context.Background(), db, sqlstore.Dialect(dialect))
	if err != nil {
		fmt.Fprintf(stderr, "nrf1d: ticket store: %v\n", err)
		return 1
	}
	capsuleRegistry, err := registry.NewSQLRegistry(context.Background(), db, registry.Dialect(dialect))
	if err != nil {
		fmt.Fprintf(stderr, "nrf1d: capsule registry: %v\n", err)
		return 1
	}

	signerKey, err := loadOrGenerateSignerKey(cfg.SignerKeyPath)
	if err != nil {
		fmt.Fprintf(stderr, "nrf1d: signer key: %v\n", err)
		return 1
	}
	logger.Info("signer ready", "kid", signerKey.Kid)

	reg, err := stdRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "nrf1d: capability registry: %v\n", err)
		return 1
	}
	runtime := pipeline.NewRuntime(reg, obs)

	permitMgr := permit.NewManager(ticketStore, func() int64 { return time.Now().UnixNano() })
	resumeJobs := permit.NewResumeStore()
	watcher := permit.NewWatcher(permitMgr, resumeJobs, runtime, 2*time.Second)

	storageWriter, err := buildStorageWriter(cfg)
	if err != nil {
		logger.Warn("object storage disabled", "reason", err.Error())
	}

	dispatcher := effect.New(effect.Config{
		Bindings:  effect.NewBindings(nil),
		Tickets:   permit.NewTicketQueueAdapter(permitMgr),
		Receipts:  capsuleRegistry,
		Storage:   storageWriter,
		SignerKey: signerKey,
		HmacRoot:  []byte(cfg.HMACRootSecret),
		Obs:       obs,
	})

	mux := http.NewServeMux()
	keyFunc := jwtKeyFunc(cfg.JWTSigningSecret)
	httpapi.NewHandler(permitMgr, keyFunc).Register(mux)
	runs := &runsHandler{
		runtime:     runtime,
		dispatcher:  dispatcher,
		resumeJobs:  resumeJobs,
		manifestDir: cfg.ManifestDir,
	}
	runs.register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		logger.Info("permit surface listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = obs.Shutdown(shutdownCtx)
	return 0
}

func sqlDriver(name string) (driver string, dialect registry.Dialect) {
	switch name {
	case "postgres":
		return "postgres", registry.DialectPostgres
	default:
		return "sqlite", registry.DialectSQLite
	}
}

func loadOrGenerateSignerKey(path string) (*sealer.KeyPair, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		priv, decErr := canon.DecodeHex(string(b))
		if decErr != nil {
			return nil, fmt.Errorf("signer key %s: %w", path, decErr)
		}
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signer key %s: want %d bytes, got %d", path, ed25519.PrivateKeySize, len(priv))
		}
		return sealer.FromPrivateKey(ed25519.PrivateKey(priv)), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kp, genErr := sealer.Generate()
	if genErr != nil {
		return nil, genErr
	}
	if writeErr := os.WriteFile(path, []byte(canon.EncodeHex(kp.Private)), 0o600); writeErr != nil {
		return nil, writeErr
	}
	return kp, nil
}

func buildStorageWriter(cfg *config.Config) (effect.StorageWriter, error) {
	switch cfg.StorageBackend {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("NRF1_S3_BUCKET is required for the s3 storage backend")
		}
		return storage.NewS3Store(context.Background(), storage.S3Config{
			Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint,
		})
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("NRF1_GCS_BUCKET is required for the gcs storage backend")
		}
		return storage.NewGCSStore(context.Background(), storage.GCSConfig{Bucket: cfg.GCSBucket})
	default:
		return nil, fmt.Errorf("no storage backend configured (NRF1_STORAGE_BACKEND)")
	}
}

// stdRegistry builds a capability Registry carrying every built-in
// capability, matching cmd/nrf1's pipeline run wiring.
func stdRegistry() (*capabilities.Registry, error) {
	reg := capabilities.NewRegistry()
	policy, err := stdcaps.NewPolicy("1.0.0")
	if err != nil {
		return nil, err
	}
	caps := []capabilities.Capability{
		stdcaps.NewIntake("1.0.0"),
		stdcaps.NewEnrich("1.0.0"),
		stdcaps.NewTransport("1.0.0"),
		stdcaps.NewLlm("1.0.0"),
		stdcaps.NewPermit("1.0.0"),
		policy,
	}
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func jwtKeyFunc(secret string) httpapi.KeyFunc {
	key := []byte(secret)
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	}
}
