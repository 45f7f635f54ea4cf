package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/voice-ledger/internal/jobs"
)

const (
	defaultObjectPrefix = "extractions"
	writeTimeout        = 30 * time.Second
)

// ObjectStore reads and writes whole objects in one bucket.
type ObjectStore interface {
	WriteObject(ctx context.Context, name, contentType string, data []byte) error
	ReadObject(ctx context.Context, name string) ([]byte, error)
}

// GCSStore is an ObjectStore on a Cloud Storage bucket. It uses Application
// Default Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStore: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) WriteObject(ctx context.Context, name, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("WriteObject: write %s/%s: %w", s.bucket, name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("WriteObject: finalize %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

func (s *GCSStore) ReadObject(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadObject: open %s/%s: %w", s.bucket, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("ReadObject: read %s/%s: %w", s.bucket, name, err)
	}
	return data, nil
}

// ObjectSink writes each job as JSON to <prefix>/YYYY/MM/DD/<job id>.json.
type ObjectSink struct {
	store  ObjectStore
	prefix string
}

func NewObjectSink(store ObjectStore, prefix string) *ObjectSink {
	if prefix == "" {
		prefix = defaultObjectPrefix
	}
	return &ObjectSink{store: store, prefix: prefix}
}

// ObjectName returns where job is stored, dated by when the model answered.
func (s *ObjectSink) ObjectName(job *jobs.ArchiveOutputJob) string {
	t := job.ProducedAt
	if t.IsZero() {
		t = job.CreatedAt
	}
	return path.Join(s.prefix, t.UTC().Format("2006/01/02"), job.JobID+".json")
}

func (s *ObjectSink) Archive(ctx context.Context, job *jobs.ArchiveOutputJob) error {
	data, err := json.Marshal(record{
		JobID:      job.JobID,
		Utterance:  job.Utterance,
		Model:      job.Model,
		Raw:        job.Raw,
		ModelError: job.ModelError,
		ProducedAt: job.ProducedAt,
	})
	if err != nil {
		return fmt.Errorf("ObjectSink: marshal: %w", err)
	}
	if err := s.store.WriteObject(ctx, s.ObjectName(job), "application/json", data); err != nil {
		return fmt.Errorf("ObjectSink: %w", err)
	}
	return nil
}

// record is the archived document; queue bookkeeping is left out.
type record struct {
	JobID      string    `json:"id"`
	Utterance  string    `json:"utterance"`
	Model      string    `json:"model"`
	Raw        string    `json:"raw"`
	ModelError string    `json:"model_error,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}
