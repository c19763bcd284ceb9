package rawstore

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/roach88/matchlog/internal/record"
)

// ObjectConfig configures an ObjectStore.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// ObjectStore keeps one object per record in an S3-compatible bucket.
// It relies on the controller being the only writer: Write checks for an
// existing object before uploading.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// OpenObject connects to the bucket, creating it if missing.
func OpenObject(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("object store: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("object store: create bucket: %w", err)
		}
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for id.
func (o *ObjectStore) Key(id record.ID) string {
	return objectKey(o.prefix, id)
}

func objectKey(prefix string, id record.ID) string {
	return path.Join(prefix, id.String()+".json")
}

func (o *ObjectStore) Exists(ctx context.Context, id record.ID) (bool, error) {
	_, err := o.client.StatObject(ctx, o.bucket, o.Key(id), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("exists %d: %w", id, err)
}

func (o *ObjectStore) Write(ctx context.Context, rec record.Record) (bool, error) {
	exists, err := o.Exists(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	_, err = o.client.PutObject(ctx, o.bucket, o.Key(rec.ID), bytes.NewReader(rec.Payload), int64(len(rec.Payload)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"content-hash": rec.Hash},
	})
	if err != nil {
		return false, fmt.Errorf("write %d: %w", rec.ID, err)
	}
	return true, nil
}

func (o *ObjectStore) Close() error { return nil }

func isNoSuchKey(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
