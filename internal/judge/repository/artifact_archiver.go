package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	archiveSourceObject  = "source.cpp.zst"
	archiveOutcomeObject = "outcome.json.zst"
	archiveContentType   = "application/zstd"
)

// ArtifactArchiver uploads a finished job's source and outcome, zstd-compressed,
// before its work directory is removed.
type ArtifactArchiver struct {
	store  storage.ObjectStorage
	bucket string
	prefix string

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error
}

// NewArtifactArchiver creates an archiver writing under bucket/prefix.
func NewArtifactArchiver(store storage.ObjectStorage, bucket, prefix string) *ArtifactArchiver {
	if prefix == "" {
		prefix = "jobs"
	}
	return &ArtifactArchiver{store: store, bucket: bucket, prefix: prefix}
}

// Name identifies the sink in logs.
func (a *ArtifactArchiver) Name() string { return "minio_archiver" }

// Record uploads the job's artifacts.
func (a *ArtifactArchiver) Record(ctx context.Context, job model.FinishedJob) error {
	if a.store == nil {
		return appErr.Unavailable("object storage is not configured")
	}
	if a.bucket == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("archive bucket is required")
	}
	if job.Status.ID == "" {
		return appErr.ValidationError("job_id", "required")
	}

	var source []byte
	if job.SourcePath != "" {
		data, err := os.ReadFile(job.SourcePath)
		if err != nil && !os.IsNotExist(err) {
			return appErr.Wrapf(err, appErr.ArchiveFailed, "read source failed")
		}
		source = data
	}
	if source == nil {
		source = []byte(job.Submission.Code)
	}
	if err := a.put(ctx, a.ObjectKey(job.Status.ID, archiveSourceObject), source); err != nil {
		return err
	}

	outcome, err := json.Marshal(job.Status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	return a.put(ctx, a.ObjectKey(job.Status.ID, archiveOutcomeObject), outcome)
}

// Fetch downloads and decompresses one archived object of a job.
func (a *ArtifactArchiver) Fetch(ctx context.Context, jobID, name string) ([]byte, error) {
	reader, err := a.store.GetObject(ctx, a.bucket, a.ObjectKey(jobID, name))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "open archived object failed")
	}
	defer func() { _ = reader.Close() }()

	dec, err := zstd.NewReader(reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ArchiveFailed, "open zstd stream failed")
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ArchiveFailed, "decompress archived object failed")
	}
	return data, nil
}

// ObjectKey returns the object key of one archived artifact.
func (a *ArtifactArchiver) ObjectKey(jobID, name string) string {
	return path.Join(a.prefix, jobID, name)
}

// SourceObject and OutcomeObject name the two archived artifacts.
func SourceObject() string  { return archiveSourceObject }
func OutcomeObject() string { return archiveOutcomeObject }

func (a *ArtifactArchiver) put(ctx context.Context, key string, data []byte) error {
	enc, err := a.encoder()
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveFailed, "create zstd encoder failed")
	}
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/2+64))
	if err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), archiveContentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload %s failed", key)
	}
	return nil
}

func (a *ArtifactArchiver) encoder() (*zstd.Encoder, error) {
	a.encOnce.Do(func() {
		a.enc, a.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return a.enc, a.encErr
}
