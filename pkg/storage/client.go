// Package storage commits image bytes to S3. The metadata store is the
// source of truth; objects here are addressed by "<uuid>.<type>" keys.
package storage

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gazouio/gazou/pkg/errors"
)

// Client provides S3 blob operations for uploaded images.
type Client struct {
	s3Client *s3.Client
	bucket   string

	// Uploads are throttled to a fixed budget per second to stay inside
	// the bucket's request quota.
	mu          sync.Mutex
	windowStart time.Time
	windowUsed  int
	maxPerSec   int
}

// NewClient creates an S3 client against the given bucket.
func NewClient(ctx context.Context, bucket, region string, maxUploadsPerSecond int) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	if maxUploadsPerSecond <= 0 {
		maxUploadsPerSecond = 10
	}

	return &Client{
		s3Client:  s3.NewFromConfig(cfg),
		bucket:    bucket,
		maxPerSec: maxUploadsPerSecond,
	}, nil
}

var contentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

// waitForSlot blocks until the current one-second window has upload budget
// left, or the context is done.
func (c *Client) waitForSlot(ctx context.Context) error {
	for {
		c.mu.Lock()
		now := time.Now()
		if now.Sub(c.windowStart) >= time.Second {
			c.windowStart = now
			c.windowUsed = 0
		}
		if c.windowUsed < c.maxPerSec {
			c.windowUsed++
			c.mu.Unlock()
			return nil
		}
		wait := time.Second - now.Sub(c.windowStart)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "upload abandoned while throttled")
		case <-time.After(wait):
		}
	}
}

// Put writes one image object. key is "<uuid>.<type>"; imgType selects the
// content type.
func (c *Client) Put(ctx context.Context, key, imgType string, data []byte) error {
	if err := c.waitForSlot(ctx); err != nil {
		return err
	}

	contentType := contentTypes[imgType]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return errors.Wrap(err, "failed to store image")
	}

	slog.Info("s3_put_complete", "s3_key", key, "size", len(data))
	return nil
}

// Delete removes one image object. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_delete_object_failed", "s3_key", key, "error", err)
		return errors.Wrap(err, "failed to delete image")
	}

	slog.Info("s3_delete_complete", "s3_key", key)
	return nil
}

// Exists reports whether an image object is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if err.Error() == "NotFound" {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}
