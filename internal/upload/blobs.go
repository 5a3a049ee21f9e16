package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrBlobNotFound = errors.New("blob not found")

// Blobs stores uploaded media bytes by object name.
type Blobs interface {
	Put(ctx context.Context, name, contentType string, r io.Reader, size int64) error
	Get(ctx context.Context, name string) (io.ReadCloser, string, error)
	Remove(ctx context.Context, name string) error
}

// MinioConfig holds the S3 endpoint settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBlobs keeps media in one S3 bucket.
type MinioBlobs struct {
	client *minio.Client
	bucket string
}

// NewMinioBlobs connects to the endpoint and creates the bucket when it does
// not exist yet.
func NewMinioBlobs(ctx context.Context, cfg MinioConfig) (*MinioBlobs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioBlobs{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioBlobs) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, name, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", name, err)
	}
	return nil
}

func (m *MinioBlobs) Get(ctx context.Context, name string) (io.ReadCloser, string, error) {
	info, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", ErrBlobNotFound
		}
		return nil, "", fmt.Errorf("stat object %s: %w", name, err)
	}
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", name, err)
	}
	return obj, info.ContentType, nil
}

func (m *MinioBlobs) Remove(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", name, err)
	}
	return nil
}

// MemoryBlobs keeps media in process memory.
type MemoryBlobs struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string]memoryObject)}
}

func (m *MemoryBlobs) Put(_ context.Context, name, contentType string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	m.mu.Lock()
	m.objects[name] = memoryObject{contentType: contentType, data: data}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobs) Get(_ context.Context, name string) (io.ReadCloser, string, error) {
	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (m *MemoryBlobs) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.objects, name)
	m.mu.Unlock()
	return nil
}
