// Package storage implements object storage on top of MinIO's S3-compatible
// API, replacing the original's Supabase-based implementation (which
// carries a long fallback chain working around a client/proxy-kwarg
// incompatibility — see server/app/core/storage.py). minio-go doesn't
// share that bug class, so this package is a direct, un-fallback-laden
// port of the four operations the original exposes. Client construction
// and bucket handling follow go-inference-service/minio_integration.go's
// MinIOService.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pixell07/ragserve/internal/apperr"
)

type Store struct {
	client *minio.Client
	bucket string
}

// Bucket returns the configured bucket name, surfaced in upload-prepare
// responses alongside the presigned URL.
func (s *Store) Bucket() string { return s.bucket }

func NewStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, apperr.Internal("constructing storage client", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not already
// exist. Called once at startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperr.UpstreamUnavailable("checking bucket existence", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return apperr.UpstreamUnavailable("creating bucket", err)
	}
	return nil
}

// PresignedUploadURL returns a URL the client can PUT the file bytes to
// directly, valid for expires.
func (s *Store) PresignedUploadURL(ctx context.Context, objectPath string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectPath, expires)
	if err != nil {
		return "", apperr.UpstreamUnavailable("generating presigned upload url", err)
	}
	return u.String(), nil
}

// Exists reports whether objectPath has been uploaded.
func (s *Store) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, apperr.UpstreamUnavailable("checking object existence", err)
	}
	return true, nil
}

// Download reads the full object into memory. Ingestion documents are
// capped by MAX_FILE_SIZE_BYTES, so a bounded in-memory read is
// appropriate rather than an io.Reader plumbed through the extract job.
func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.UpstreamUnavailable("opening object", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.UpstreamUnavailable("reading object", err)
	}
	return data, nil
}

// Delete best-effort removes an object; callers log failures rather than
// fail the caller's own operation (matching the original's tolerant
// document-delete path).
func (s *Store) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return apperr.UpstreamUnavailable("deleting object", err)
	}
	return nil
}
