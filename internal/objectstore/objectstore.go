// Package objectstore is the byte-preserving gateway onto the upstream
// bucket that stores raw MIME blobs. Every fetch returns an exact byte
// array; nothing in this package ever routes an object body through a
// string conversion.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNotFound is returned when a key has no corresponding object.
var ErrNotFound = errors.New("object not found")

// Object describes one listed object.
type Object struct {
	Key          string
	LastModified time.Time
}

// Store is the object-store gateway.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config configures New.
type Config struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string // optional, for S3-compatible endpoints
}

// New builds a Store backed by the AWS SDK's S3 client, resolving
// credentials the standard way (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Prefix returns the configured default key prefix.
func (s *Store) Prefix() string { return s.prefix }

// Bucket returns the configured default bucket.
func (s *Store) Bucket() string { return s.bucket }

// GetObject fetches the exact bytes of key from bucket (or the store's
// default bucket if bucket is empty).
func (s *Store) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	ctx, span := otel.Tracer("relayhook/objectstore").Start(ctx, "objectstore.get")
	span.SetAttributes(attribute.String("object.bucket", bucket), attribute.String("object.key", key))
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := out.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, rerr)
		}
	}
	return buf, nil
}

// HeadObject checks whether key exists without downloading its body.
func (s *Store) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// ListObjects enumerates up to maxKeys objects under prefix (or the store's
// default prefix if prefix is empty), optionally restricted to objects last
// modified within sinceHours hours (0 disables the restriction).
func (s *Store) ListObjects(ctx context.Context, prefix string, maxKeys int, sinceHours int) ([]Object, error) {
	if prefix == "" {
		prefix = s.prefix
	}
	if maxKeys <= 0 {
		maxKeys = 10
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(maxKeys)),
	})
	if err != nil {
		return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
	}

	var cutoff time.Time
	if sinceHours > 0 {
		cutoff = time.Now().Add(-time.Duration(sinceHours) * time.Hour)
	}

	objs := make([]Object, 0, len(out.Contents))
	for _, item := range out.Contents {
		if item.Key == nil {
			continue
		}
		lastMod := time.Time{}
		if item.LastModified != nil {
			lastMod = *item.LastModified
		}
		if !cutoff.IsZero() && lastMod.Before(cutoff) {
			continue
		}
		objs = append(objs, Object{Key: *item.Key, LastModified: lastMod})
	}
	return objs, nil
}

func isNoSuchKey(err error) bool {
	var nf interface{ ErrorCode() string }
	if errors.As(err, &nf) {
		code := nf.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
