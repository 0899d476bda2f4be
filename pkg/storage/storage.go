// Package storage mirrors the teacher's storage.Driver abstraction
// (ckmine11-registry-x/backend/pkg/storage/s3.go), repurposed here as
// an optional secondary backend that Model Store's push (spec.md §4.5)
// mirrors blobs into; manifests are not mirrored. The filesystem blobstore/manifest
// store remain the canonical, authoritative store per spec.md §4.1/§4.4;
// this Driver only shadows push traffic to an S3-compatible bucket
// when one is configured.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/modelhost/modelhost/pkg/config"
)

// Driver is the mirror-push target. Unlike the teacher's Driver, this
// one is not read from on the request path — acquire/open always goes
// through blobstore.Store — so it only needs a writer and a delete.
type Driver interface {
	Writer(ctx context.Context, path string) (io.WriteCloser, error)
	Delete(ctx context.Context, path string) error
}

// S3Driver mirrors pushed blobs to an S3-compatible bucket.
type S3Driver struct {
	client *minio.Client
	bucket string
}

// NewS3Driver returns nil, nil when cfg has no S3 endpoint configured —
// push then simply skips mirroring, matching the teacher's pattern of
// degrading gracefully when an optional backing service is absent
// (main.go logs a warning and disables async scanning when Redis is
// unreachable; we do the same for the S3 mirror).
func NewS3Driver(cfg *config.Config) (*S3Driver, error) {
	if cfg.S3Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: new minio client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: bucket exists check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: make bucket: %w", err)
		}
	}

	return &S3Driver{client: client, bucket: cfg.S3Bucket}, nil
}

func (d *S3Driver) Writer(ctx context.Context, path string) (io.WriteCloser, error) {
	r, w := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, err := d.client.PutObject(ctx, d.bucket, path, r, -1, minio.PutObjectOptions{})
		if err != nil {
			r.CloseWithError(err)
			done <- err
			return
		}
		r.Close()
		done <- nil
	}()

	return &syncWriter{w: w, done: done}, nil
}

type syncWriter struct {
	w    *io.PipeWriter
	done chan error
}

func (s *syncWriter) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *syncWriter) Close() error {
	if err := s.w.Close(); err != nil {
		return err
	}
	return <-s.done
}

func (d *S3Driver) Delete(ctx context.Context, path string) error {
	return d.client.RemoveObject(ctx, d.bucket, path, minio.RemoveObjectOptions{})
}

// PresignedGet is used only for diagnostic tooling (not on the request
// path); kept narrow to avoid growing the interface beyond what push
// needs.
func (d *S3Driver) PresignedGet(ctx context.Context, path string, expiry time.Duration) (string, error) {
	u, err := d.client.PresignedGetObject(ctx, d.bucket, path, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
