// Package publish uploads the files a run produced to an S3-compatible
// bucket.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store puts objects into a bucket.
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

// Options configures an S3 store.
type Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// S3Store is a Store backed by minio-go.
type S3Store struct {
	client *minio.Client
	region string
}

// NewS3Store creates a client for opts.Endpoint, which may be a bare host or
// a URL; an https URL forces TLS.
func NewS3Store(opts Options) (*S3Store, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials are required")
	}

	endpoint := opts.Endpoint
	useSSL := opts.UseSSL
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: useSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	return &S3Store{client: client, region: opts.Region}, nil
}

// EnsureBucket creates bucket when it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

// PutObject uploads one object.
func (s *S3Store) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

// MemoryStore keeps objects in memory, keyed by "<bucket>/<key>".
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]bool),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// EnsureBucket records the bucket.
func (m *MemoryStore) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = true
	return nil
}

// PutObject stores the object's content.
func (m *MemoryStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.buckets[bucket] {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	m.objects[bucket+"/"+key] = data
	m.types[bucket+"/"+key] = contentType
	return nil
}

// Object returns a stored object and its content type.
func (m *MemoryStore) Object(bucket, key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return bytes.Clone(data), m.types[bucket+"/"+key], ok
}

// Keys returns every stored "<bucket>/<key>", sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Publisher uploads run artifacts under "<prefix>/<run_id>/<basename>".
type Publisher struct {
	store  Store
	bucket string
	prefix string
}

// NewPublisher creates a publisher writing to bucket.
func NewPublisher(store Store, bucket, prefix string) *Publisher {
	return &Publisher{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key of a file for a run.
func (p *Publisher) Key(runID, file string) string {
	return path.Join(p.prefix, runID, filepath.Base(file))
}

// Publish uploads files and returns the keys written. Empty paths and files
// that were never created are skipped.
func (p *Publisher) Publish(ctx context.Context, runID string, files []string) ([]string, error) {
	if err := p.store.EnsureBucket(ctx, p.bucket); err != nil {
		return nil, err
	}

	var keys []string
	for _, file := range files {
		if file == "" {
			continue
		}
		key, err := p.upload(ctx, runID, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *Publisher) upload(ctx context.Context, runID, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", file, err)
	}
	key := p.Key(runID, file)
	if err := p.store.PutObject(ctx, p.bucket, key, f, info.Size(), ContentType(file)); err != nil {
		return "", err
	}
	return key, nil
}

// ContentType guesses an artifact's content type from its extension.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
