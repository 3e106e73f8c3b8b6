// Package s3storage wraps MinIO/S3: it stores the persisted composition blob
// and can upload assets straight to a bucket, handing out presigned URLs as
// their remote references.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/config"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

// Storage satisfies blobstore.Store for the state bucket and
// upload.Transport for the asset bucket.
type Storage struct {
	client      *minio.Client
	stateBucket string
	assetBucket string
	region      string
	urlTTL      time.Duration
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:      client,
		stateBucket: cfg.StateBucket,
		assetBucket: cfg.AssetBucket,
		region:      cfg.S3Region,
		urlTTL:      cfg.AssetURLTTL,
	}, nil
}

// EnsureBuckets makes sure the state and asset buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.stateBucket, s.assetBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Write stores a state blob. A PUT replaces the object atomically.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if _, err := s.client.PutObject(ctx, s.stateBucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put state object: %w", err)
	}
	return nil
}

// Read fetches a state blob.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.stateBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get state object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("read state object: %w", err)
	}
	return buf, nil
}

// Upload puts the asset bytes into the asset bucket and returns a presigned
// GET URL. The object key derives from the asset identifier, so uploading the
// same asset again overwrites the same object.
func (s *Storage) Upload(ctx context.Context, p upload.Payload) (string, error) {
	key := ObjectKey(p)
	opts := minio.PutObjectOptions{
		ContentType:  p.Format.ContentType(),
		UserMetadata: map[string]string{"asset-id": url.QueryEscape(p.AssetID)},
	}
	if _, err := s.client.PutObject(ctx, s.assetBucket, key, bytes.NewReader(p.Data), int64(len(p.Data)), opts); err != nil {
		return "", classify(err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.assetBucket, key, s.urlTTL, url.Values{})
	if err != nil {
		return "", upload.Permanent(fmt.Errorf("presign asset object: %w", err))
	}
	return u.String(), nil
}

// ObjectKey names the asset object for a payload.
func ObjectKey(p upload.Payload) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.AssetID))
	return fmt.Sprintf("assets/%s.%s", id, p.Format)
}

// classify treats client errors other than timeouts and throttling as
// permanent. err must be the unwrapped minio error.
func classify(err error) error {
	code := minio.ToErrorResponse(err).StatusCode
	wrapped := fmt.Errorf("put asset object: %w", err)
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return upload.Permanent(wrapped)
	}
	return upload.Transient(wrapped)
}
