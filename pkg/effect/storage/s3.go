package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nrf1proto/capsule/pkg/errs"
)

// S3Store implements Store on AWS S3, keying objects by their BLAKE3
// content identifier.
//
// Grounded on pkg/artifacts/s3_store.go, retargeted from SHA-256 hex keys
// to nrf1's "b3:<hex>" content identifiers.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO/LocalStack
	Prefix   string
}

// NewS3Store builds an S3-backed Store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, errs.New(errs.IoStorageFailed, "storage: load aws config: %v", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(cid string) string {
	return s.prefix + strings.TrimPrefix(cid, "b3:") + ".blob"
}

// Store uploads data keyed by its content identifier; a pre-existing
// object at that key is treated as success.
func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	cid := contentID(data)
	key := s.key(cid)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err == nil {
		return cid, nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", errs.New(errs.IoStorageFailed, "storage: s3 put failed: %v", err)
	}
	return cid, nil
}

// Get retrieves the blob for cid.
func (s *S3Store) Get(ctx context.Context, cid string) ([]byte, error) {
	key := s.key(cid)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, errs.New(errs.IoStorageFailed, "storage: s3 get failed for %s: %v", cid, err)
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

// Exists reports whether cid is present.
func (s *S3Store) Exists(ctx context.Context, cid string) (bool, error) {
	key := s.key(cid)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes the blob for cid.
func (s *S3Store) Delete(ctx context.Context, cid string) error {
	key := s.key(cid)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return errs.New(errs.IoStorageFailed, "storage: s3 delete failed for %s: %v", cid, err)
	}
	return nil
}
