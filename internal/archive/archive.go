// Package archive keeps every raw extraction response. Outputs are queued
// by Recorder and written to the configured sinks by a background worker.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/voice-ledger/internal/extraction"
	"github.com/dvloznov/voice-ledger/internal/jobs"
	"github.com/rs/zerolog"
)

const publishTimeout = 200 * time.Millisecond

// Sink stores one archived output.
type Sink interface {
	Archive(ctx context.Context, job *jobs.ArchiveOutputJob) error
}

// Recorder implements extraction.OutputRecorder by queueing archive jobs.
type Recorder struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

func NewRecorder(publisher jobs.Publisher, log zerolog.Logger) *Recorder {
	return &Recorder{publisher: publisher, log: log}
}

// RecordOutput queues out. Failures are logged and dropped so extraction
// never waits on the archive.
func (r *Recorder) RecordOutput(ctx context.Context, out extraction.Output) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	job := &jobs.ArchiveOutputJob{
		Utterance:  out.Utterance,
		Model:      out.Model,
		Raw:        out.Raw,
		ModelError: out.Error,
		ProducedAt: out.CreatedAt,
	}
	if err := r.publisher.Publish(ctx, job); err != nil {
		r.log.Warn().Err(err).Str("model", out.Model).Msg("failed to queue model output")
		return
	}
	r.log.Debug().Str("job_id", job.JobID).Msg("model output queued")
}

// Handler returns a job handler that writes to every sink and joins their
// errors.
func Handler(sinks ...Sink) jobs.Handler {
	return func(ctx context.Context, job *jobs.ArchiveOutputJob) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Archive(ctx, job); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("archive %s: %w", job.JobID, errors.Join(errs...))
		}
		return nil
	}
}

var _ extraction.OutputRecorder = (*Recorder)(nil)
