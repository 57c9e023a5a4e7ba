package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

type fakePutter struct {
	bucket, object string
	body           []byte
	opts           minio.PutObjectOptions
	err            error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.object, f.opts = bucket, object, opts
	f.body, _ = io.ReadAll(r)
	if int64(len(f.body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size, ETag: "etag"}, nil
}

func TestArchiveWritesJSON(t *testing.T) {
	fp := &fakePutter{}
	a := &Archive{client: fp, bucket: "evals", prefix: "evaluations"}
	ev := evaluation.Evaluation{
		ID:         "e1",
		RunID:      "run-7",
		Status:     evaluation.StatusCompleted,
		TrustScore: &evaluation.TrustScore{Overall: 82.75},
	}

	if err := a.Archive(context.Background(), ev); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if fp.bucket != "evals" || fp.object != "evaluations/run-7/e1.json" {
		t.Fatalf("unexpected target %s/%s", fp.bucket, fp.object)
	}
	if fp.opts.ContentType != "application/json" || fp.opts.UserMetadata["trust-score"] != "82.75" {
		t.Fatalf("unexpected put options %+v", fp.opts)
	}

	var got evaluation.Evaluation
	if err := json.Unmarshal(fp.body, &got); err != nil {
		t.Fatalf("archived body is not JSON: %v", err)
	}
	if got.ID != "e1" || got.TrustScore == nil || got.TrustScore.Overall != 82.75 {
		t.Fatalf("unexpected archived evaluation %+v", got)
	}
}

func TestArchivePropagatesPutError(t *testing.T) {
	a := &Archive{client: &fakePutter{err: errors.New("access denied")}, bucket: "evals"}
	err := a.Archive(context.Background(), evaluation.Evaluation{ID: "e1", RunID: "r"})
	if err == nil {
		t.Fatal("expected put error")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("disabled config should validate, got %v", err)
	}
	cfg := Config{Endpoint: "localhost:9000", Bucket: "b"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing credentials to be rejected")
	}
	cfg.AccessKey, cfg.SecretKey = "k", "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Enabled() || (Config{}).Enabled() {
		t.Fatal("Enabled should follow Endpoint")
	}
}
