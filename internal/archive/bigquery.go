package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/voice-ledger/internal/jobs"
	ledgerbq "github.com/dvloznov/voice-ledger/internal/ledger/bigquery"
)

// ModelOutputInserter is satisfied by the BigQuery ledger repository.
type ModelOutputInserter interface {
	InsertModelOutput(ctx context.Context, row *ledgerbq.ModelOutputRow) error
}

// TableSink appends outputs to the model_outputs table.
type TableSink struct {
	inserter ModelOutputInserter
}

func NewTableSink(inserter ModelOutputInserter) *TableSink {
	return &TableSink{inserter: inserter}
}

func (s *TableSink) Archive(ctx context.Context, job *jobs.ArchiveOutputJob) error {
	row := &ledgerbq.ModelOutputRow{
		OutputID:  job.JobID,
		ModelName: job.Model,
		Utterance: job.Utterance,
		RawText:   bigquery.NullString{StringVal: job.Raw, Valid: job.Raw != ""},
		Error:     bigquery.NullString{StringVal: job.ModelError, Valid: job.ModelError != ""},
		CreatedTS: job.ProducedAt,
	}
	if err := s.inserter.InsertModelOutput(ctx, row); err != nil {
		return fmt.Errorf("TableSink: %w", err)
	}
	return nil
}
