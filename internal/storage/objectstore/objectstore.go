// Package objectstore keeps product photos and archived renders in an
// S3-compatible bucket store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// maxArchiveBytes caps how much of a rendered file is copied
const maxArchiveBytes = 512 << 20

// Config holds the connection settings and bucket names
type Config struct {
	Enabled       bool   `koanf:"enabled"`
	Endpoint      string `koanf:"endpoint" validate:"required_if=Enabled true"`
	AccessKey     string `koanf:"access_key" validate:"required_if=Enabled true"`
	SecretKey     string `koanf:"secret_key" validate:"required_if=Enabled true"`
	Region        string `koanf:"region"`
	UseSSL        bool   `koanf:"use_ssl"`
	BucketImages  string `koanf:"bucket_images" validate:"required_if=Enabled true"`
	BucketRenders string `koanf:"bucket_renders" validate:"required_if=Enabled true"`
}

// Validate checks that the settings needed to connect are present
func (c Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("object store endpoint is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return errors.New("object store credentials are required")
	case c.BucketImages == "" || c.BucketRenders == "":
		return errors.New("object store bucket names are required")
	}
	return nil
}

// bucketAPI is the part of *minio.Client the store uses
type bucketAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// Store reads and writes reel media
type Store struct {
	api  bucketAPI
	cfg  Config
	http *http.Client
}

// New connects a store to the configured endpoint
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return newStore(client, cfg), nil
}

func newStore(api bucketAPI, cfg Config) *Store {
	return &Store{
		api:  api,
		cfg:  cfg,
		http: &http.Client{Timeout: 2 * time.Minute, Transport: newTransport()},
	}
}

// EnsureBuckets creates any missing bucket
func (s *Store) EnsureBuckets(ctx context.Context) error {
	if err := s.ensureBucket(ctx, s.cfg.BucketImages); err != nil {
		return fmt.Errorf("ensure images bucket: %w", err)
	}
	if err := s.ensureBucket(ctx, s.cfg.BucketRenders); err != nil {
		return fmt.Errorf("ensure renders bucket: %w", err)
	}
	return nil
}

// CheckBuckets verifies both buckets exist
func (s *Store) CheckBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.cfg.BucketImages, s.cfg.BucketRenders} {
		exists, err := s.api.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("bucket %s exists: %w", bucket, err)
		}
		if !exists {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
	}
	return nil
}

// PutProductImage uploads a product photo and returns its object key
func (s *Store) PutProductImage(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	key += extensionFor(mimeType)
	_, err := s.api.PutObject(ctx, s.cfg.BucketImages, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("failed to upload product image: %w", err)
	}
	return key, nil
}

// GetProductImage downloads a product photo by the key PutProductImage returned
func (s *Store) GetProductImage(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.api.GetObject(ctx, s.cfg.BucketImages, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch product image: %w", err)
	}
	defer func() { _ = obj.Close() }()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat product image: %w", err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read product image: %w", err)
	}
	return data, info.ContentType, nil
}

// Archive copies a finished render from the provider into the renders bucket
// and returns its location there
func (s *Store) Archive(ctx context.Context, key, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid render url: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download render: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download render: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	objectKey := "renders/" + key + extensionFor(contentType)
	if ext := path.Ext(req.URL.Path); ext != "" && extensionFor(contentType) == "" {
		objectKey += ext
	}

	size := resp.ContentLength
	if size > maxArchiveBytes {
		return "", fmt.Errorf("render too large to archive: %d bytes", size)
	}
	body := io.LimitReader(resp.Body, maxArchiveBytes)
	if _, err := s.api.PutObject(ctx, s.cfg.BucketRenders, objectKey, body, size,
		minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("failed to archive render: %w", err)
	}
	return "s3://" + s.cfg.BucketRenders + "/" + objectKey, nil
}

func (s *Store) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.api.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
}

func extensionFor(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
