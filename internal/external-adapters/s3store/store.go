// Package s3store mirrors release artifacts to an S3 bucket.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".zip": "application/zip",
	".dmg": "application/x-apple-diskimage",
	".asc": "text/plain; charset=utf-8",
	".xml": "application/rss+xml",
	".gz":  "application/gzip",
}

// Options configure a Store
type Options struct {
	Bucket string
	Prefix string
	// PublicBaseURL replaces the virtual-hosted bucket URL in returned locations
	PublicBaseURL string
}

// Store uploads files to one bucket. It implements gateways.ArtifactStore.
type Store struct {
	client  *s3.Client
	options Options
}

var _ gateways.ArtifactStore = (*Store)(nil)

// New creates a Store using the default AWS credential chain.
// AWS_REGION and AWS_ENDPOINT_URL_S3 are honored for S3-compatible storage.
func New(ctx context.Context, options Options) (*Store, error) {
	if options.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return NewWithClient(s3.NewFromConfig(cfg), options), nil
}

// NewWithClient creates a Store around an existing client
func NewWithClient(client *s3.Client, options Options) *Store {
	return &Store{client: client, options: options}
}

// Upload implements gateways.ArtifactStore
func (s *Store) Upload(ctx context.Context, key, filePath string) (string, error) {
	objectKey := s.objectKey(key)

	//nolint:gosec // G304: artifact produced by this run
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.options.Bucket),
		Key:         aws.String(objectKey),
		Body:        f,
		ContentType: aws.String(contentType(filePath)),
	})
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %s: %s", s.options.Bucket, objectKey, apiErr.ErrorCode(), apiErr.ErrorMessage())
	} else if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.options.Bucket, objectKey, err)
	}

	return s.location(objectKey), nil
}

func (s *Store) objectKey(key string) string {
	return strings.TrimPrefix(path.Join(s.options.Prefix, key), "/")
}

func (s *Store) location(objectKey string) string {
	if s.options.PublicBaseURL != "" {
		return strings.TrimSuffix(s.options.PublicBaseURL, "/") + "/" + objectKey
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.options.Bucket, objectKey)
}

func contentType(filePath string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filePath))]; ok {
		return ct
	}
	return defaultContentType
}
