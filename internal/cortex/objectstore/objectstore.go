// Package objectstore mirrors uploaded HTML bundles and fitted
// projector/clusterer artifacts to S3-compatible storage when configured
// (SPEC_FULL.md §4.9, expansion). Grounded on internal/objectstore's
// aws-sdk-go-v2/s3 client construction (region/endpoint/path-style
// options), narrowed here to the single Mirror operation this spec needs
// instead of the teacher's full ObjectStore (Get/Put/Delete/List/Head/Copy)
// surface — ingestion only ever writes, never lists or deletes mirrored
// artifacts.
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config configures the optional S3 mirror. An empty Bucket disables
// mirroring entirely.
type Config struct {
	Bucket string
	Prefix string
	Region string
}

// Mirror uploads bundles and model artifacts to S3-compatible storage on a
// best-effort basis: failures are returned to the caller to log, never
// treated as fatal to the local operation that produced the artifact
// (same policy as the content cache, SPEC_FULL.md §4.6).
type Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs a Mirror, or returns (nil, nil) when cfg.Bucket is empty
// — callers treat a nil Mirror as "mirroring disabled".
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Mirror{client: s3.NewFromConfig(awsCfg), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (m *Mirror) key(kind, name string) string {
	if m.prefix == "" {
		return kind + "/" + name
	}
	return m.prefix + "/" + kind + "/" + name
}

// MirrorBundle uploads a raw uploaded HTML bundle under bundles/{name}.
func (m *Mirror) MirrorBundle(ctx context.Context, name string, raw []byte) error {
	return m.put(ctx, m.key("bundles", name), raw)
}

// MirrorArtifact uploads a fitted projector/clusterer model artifact under
// models/{name}.
func (m *Mirror) MirrorArtifact(ctx context.Context, name string, data []byte) error {
	return m.put(ctx, m.key("models", name), data)
}

func (m *Mirror) put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}
