package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/chainguard-dev/clog"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region config

// Config points at an S3-compatible bucket. An empty Endpoint disables archiving.
type Config struct {
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey    string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket       string `yaml:"bucket" env:"BUCKET, default=trustscore"`
	Prefix       string `yaml:"prefix" env:"PREFIX, default=evaluations"`
	UseSSL       bool   `yaml:"use_ssl" env:"USE_SSL, default=false"`
	CreateBucket bool   `yaml:"create_bucket" env:"CREATE_BUCKET, default=true"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate requires credentials and a bucket once an endpoint is set.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("archive: access key and secret key are required with endpoint %s", c.Endpoint)
	}
	if c.Bucket == "" {
		return fmt.Errorf("archive: bucket is required")
	}
	return nil
}

// #endregion config

// #region archive

// putter is the slice of *minio.Client the archive needs.
type putter interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive writes completed evaluations as JSON objects.
type Archive struct {
	client putter
	bucket string
	prefix string
}

// New connects to the configured endpoint and, if asked, creates the bucket.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}

	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
			}
			clog.FromContext(ctx).With("bucket", cfg.Bucket).Info("Archive bucket created")
		}
	}
	return &Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectName is <prefix>/<run_id>/<evaluation_id>.json.
func (a *Archive) ObjectName(ev evaluation.Evaluation) string {
	return path.Join(a.prefix, ev.RunID, ev.ID+".json")
}

// Archive uploads ev. Re-archiving overwrites the previous object.
func (a *Archive) Archive(ctx context.Context, ev evaluation.Evaluation) error {
	body, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evaluation %s: %w", ev.ID, err)
	}

	name := a.ObjectName(ev)
	meta := map[string]string{"status": string(ev.Status)}
	if ev.TrustScore != nil {
		meta["trust-score"] = fmt.Sprintf("%.2f", ev.TrustScore.Overall)
	}
	info, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", a.bucket, name, err)
	}

	clog.FromContext(ctx).With("object", name).With("etag", info.ETag).Debug("Evaluation archived")
	return nil
}

// #endregion archive
