// Package storage wraps the S3-compatible object store behind the small
// surface the rest of the system needs: upload, list, delete, signed URLs,
// and the download path the indexing pipeline depends on.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const downloadURLExpiry = 5 * time.Minute

// FileStorage provides object operations against MinIO/S3.
type FileStorage struct {
	client        *minio.Client
	defaultBucket string
}

// NewFileStorageFromEnv initialises FileStorage from MINIO_* variables.
// STORAGE_BUCKET names the default bucket (default "agent-files").
func NewFileStorageFromEnv() (*FileStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, errors.New("storage: MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}

	bucket := strings.TrimSpace(os.Getenv("STORAGE_BUCKET"))
	if bucket == "" {
		bucket = "agent-files"
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	return &FileStorage{client: client, defaultBucket: bucket}, nil
}

// DefaultBucket returns the bucket used when a request names none.
func (s *FileStorage) DefaultBucket() string {
	if s == nil {
		return ""
	}
	return s.defaultBucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *FileStorage) EnsureBucket(ctx context.Context, bucket string) error {
	if s == nil || s.client == nil {
		return errors.New("storage: file storage not configured")
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("storage: create bucket %q: %w", bucket, err)
		}
	}
	return nil
}

// Upload stores data under key. Without upsert an existing object is an
// error, mirroring the conditional upload semantics of the manager API.
func (s *FileStorage) Upload(ctx context.Context, bucket, key string, data []byte, contentType string, upsert bool) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: file storage not configured")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !upsert {
		if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err == nil {
			return "", fmt.Errorf("storage: object %q already exists (set upsert to replace)", key)
		}
	}
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload %q: %w", key, err)
	}
	return key, nil
}

// FileEntry is one listed object.
type FileEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List enumerates objects under prefix.
func (s *FileStorage) List(ctx context.Context, bucket, prefix string) ([]FileEntry, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("storage: file storage not configured")
	}
	entries := make([]FileEntry, 0, 16)
	for object := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("storage: list %q: %w", bucket, object.Err)
		}
		entries = append(entries, FileEntry{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return entries, nil
}

// Delete removes one object.
func (s *FileStorage) Delete(ctx context.Context, bucket, key string) error {
	if s == nil || s.client == nil {
		return errors.New("storage: file storage not configured")
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

// SignedURL returns a temporary GET URL for the object.
func (s *FileStorage) SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: file storage not configured")
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	signed, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("storage: sign url for %q: %w", key, err)
	}
	return signed.String(), nil
}

// Download reads the full object. A failed direct read retries once through
// a short-lived signed URL before giving up, so transient credential-path
// issues do not fail indexing outright.
func (s *FileStorage) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("storage: file storage not configured")
	}
	data, directErr := s.downloadDirect(ctx, bucket, key)
	if directErr == nil {
		return data, nil
	}
	if isNoSuchKey(directErr) {
		return nil, fmt.Errorf("storage: object not found: %s/%s", bucket, key)
	}

	signed, err := s.SignedURL(ctx, bucket, key, downloadURLExpiry)
	if err != nil {
		return nil, directErr
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return nil, directErr
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: download via signed url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("storage: object not found: %s/%s", bucket, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: download via signed url: status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (s *FileStorage) downloadDirect(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
