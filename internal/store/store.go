package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Canned ACLs used for marketplace documents.
const (
	ACLPublicRead      = "public-read"
	ACLBucketOwnerFull = "bucket-owner-full-control"
)

// TimestampMetadataKey carries the upload instant on every object so later
// passes can reason about document age without a HEAD on the source system.
const TimestampMetadataKey = "timestamp"

// Config locates the documents bucket for one stage.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store wraps the object store with the operations the sweeps need.
type Store struct {
	client *minio.Client
	bucket string

	// Now is swapped in tests for deterministic timestamp metadata.
	Now func() time.Time
}

// New connects to the object store.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, Now: time.Now}, nil
}

// Object is one stored key with its metadata.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// List returns every object under the given key prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		out = append(out, Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return out, nil
}

// Copy duplicates src to dst within the bucket, merging the given metadata
// over the source's. Used to move draft documents into the live prefix.
func (s *Store) Copy(ctx context.Context, src, dst string, metadata map[string]string) error {
	dstOpts := minio.CopyDestOptions{
		Bucket: s.bucket,
		Object: dst,
	}
	if len(metadata) > 0 {
		merged := map[string]string{TimestampMetadataKey: s.now().UTC().Format(time.RFC3339)}
		for k, v := range metadata {
			merged[k] = v
		}
		dstOpts.UserMetadata = merged
		dstOpts.ReplaceMetadata = true
	}
	_, err := s.client.CopyObject(ctx, dstOpts, minio.CopySrcOptions{Bucket: s.bucket, Object: src})
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Save writes bytes under key with the given canned ACL. downloadFilename,
// when set, becomes the browser-facing filename via content-disposition.
func (s *Store) Save(ctx context.Context, key string, data []byte, acl, downloadFilename string) error {
	opts := minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
		UserMetadata: map[string]string{
			"x-amz-acl":          acl,
			TimestampMetadataKey: s.now().UTC().Format(time.RFC3339),
		},
	}
	if downloadFilename != "" {
		opts.ContentDisposition = fmt.Sprintf("attachment; filename=%q", downloadFilename)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Get reads one object in full. Agreement PDFs are small; callers that
// need streaming should go through the client directly.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes one key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".odt":
		return "application/vnd.oasis.opendocument.text"
	case ".ods":
		return "application/vnd.oasis.opendocument.spreadsheet"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
