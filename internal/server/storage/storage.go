// Package storage opens the bucket that holds uploaded files, processed
// derivatives and merged artifacts. Keys are "<sessionID>/<filename>" for
// session files and "artifacts/<name>" for merged output.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// Config selects and parameterizes the backend.
//
// URL forms:
//   - mem://                   in-process bucket, lost on restart
//   - file://./uploads         local directory, created when missing
//   - s3://bucket              S3 or any S3-compatible endpoint
type Config struct {
	URL        string
	S3User     string
	S3Password string
	S3Region   string
	S3Endpoint string
}

func Open(ctx context.Context, cfg Config) (*blob.Bucket, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}

	switch u.Scheme {
	case "mem":
		return memblob.OpenBucket(nil), nil
	case "file":
		return openDir(u.Host + u.Path)
	case "s3":
		return openS3(ctx, u.Host, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

func openDir(dir string) (*blob.Bucket, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return fileblob.OpenBucket(abs, nil)
}

func openS3(ctx context.Context, bucket string, c Config) (*blob.Bucket, error) {
	if bucket == "" {
		return nil, errors.New("s3 storage url needs a bucket name")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.S3User, c.S3Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(c.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return s3blob.OpenBucket(ctx, client, bucket, nil)
}

// Delete removes keys, treating missing objects as already deleted so that
// cleanup can run more than once.
func Delete(ctx context.Context, b *blob.Bucket, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := b.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// IsNotFound reports whether err is a missing-object error from the bucket.
func IsNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

// SessionKey is the storage key of a session file.
func SessionKey(sessionID, filename string) string {
	return sessionID + "/" + filename
}

// ArtifactKey is the storage key of a merged artifact.
func ArtifactKey(name string) string {
	return "artifacts/" + name
}
