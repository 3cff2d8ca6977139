package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the store
	ErrObjectNotFound = errors.New("object not found")

	// ErrPresignUnsupported is returned by stores that cannot mint public links
	ErrPresignUnsupported = errors.New("presigned URLs not supported by this store")
)

// ObjectStore holds binary blobs: uploaded logos and archived invoice PDFs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	// PresignGet returns a time-limited URL a third party can download key from.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	HealthCheck(ctx context.Context) error
}

// Config for the persistence layer
type Config struct {
	// ObjectStoreType selects the blob backend: "s3" or "filesystem"
	ObjectStoreType string

	// Filesystem object store root (development)
	FilesystemRoot string

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	RunMigrations       bool

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config. An empty URL disables Redis.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		ObjectStoreType:  "s3",
		FilesystemRoot:   "/tmp/invoicer",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RunMigrations:    true,
		S3Region:         "us-east-1",
		S3Bucket:         "invoice-logos",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			"user": 5 * time.Minute,
			"pdf":  15 * time.Minute,
		},
		L1CacheSize: 1000,
	}
}

// TTL returns the configured TTL for a cache kind, or fallback
func (c Config) TTL(kind string, fallback time.Duration) time.Duration {
	if ttl, ok := c.CacheTTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return fallback
}
