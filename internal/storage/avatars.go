// Package storage uploads profile avatars to an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/cinedb/cinedb/internal/config"
)

var (
	// ErrDisabled is returned when no bucket is configured.
	ErrDisabled = errors.New("avatar storage is not configured")
	// ErrFileType is returned for files that are not images.
	ErrFileType = errors.New("avatar must be a jpg, png, webp or gif image")
	// ErrTooLarge is returned for files over the configured limit.
	ErrTooLarge = errors.New("avatar file is too large")
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// ObjectAPI is the part of *s3.Client the uploader calls.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Avatars stores images under avatars/<user id>/ and returns their public
// URL.
type Avatars struct {
	api      ObjectAPI
	bucket   string
	domain   string
	maxBytes int64
}

// NewAvatars builds an S3 client for cfg.  It returns nil when storage is
// disabled; a nil *Avatars rejects every upload with ErrDisabled.
func NewAvatars(ctx context.Context, cfg config.StorageConfig) (*Avatars, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return NewAvatarsWithAPI(client, cfg), nil
}

// NewAvatarsWithAPI wires an existing client, e.g. a fake in tests.
func NewAvatarsWithAPI(api ObjectAPI, cfg config.StorageConfig) *Avatars {
	domain := strings.TrimRight(cfg.PublicDomain, "/")
	if domain == "" {
		domain = strings.TrimRight(cfg.Endpoint, "/")
	}
	return &Avatars{api: api, bucket: cfg.Bucket, domain: domain, maxBytes: cfg.MaxBytes}
}

// Upload stores body as a new object and returns its public URL.
func (a *Avatars) Upload(ctx context.Context, userID uint64, filename, contentType string, size int64, body io.Reader) (string, error) {
	if a == nil {
		return "", ErrDisabled
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !imageExts[ext] {
		return "", ErrFileType
	}
	if a.maxBytes > 0 && size > a.maxBytes {
		return "", ErrTooLarge
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(ext)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", ErrFileType
	}

	key := fmt.Sprintf("avatars/%d/%d-%s%s", userID, time.Now().UTC().Unix(), uuid.NewString(), ext)
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	return a.publicURL(key), nil
}

// Delete removes the object behind a URL returned by Upload.  URLs that
// do not point into the bucket are ignored.
func (a *Avatars) Delete(ctx context.Context, url string) error {
	if a == nil || url == "" {
		return nil
	}
	key, ok := strings.CutPrefix(url, a.domain+"/"+a.bucket+"/")
	if !ok || key == "" {
		return nil
	}
	if _, err := a.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete avatar %s: %w", key, err)
	}
	return nil
}

func (a *Avatars) publicURL(key string) string {
	return a.domain + "/" + a.bucket + "/" + key
}
