package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
)

// InsertModelOutput appends a raw extraction response to model_outputs.
func (r *Repository) InsertModelOutput(ctx context.Context, row *ModelOutputRow) error {
	if row.OutputID == "" {
		row.OutputID = uuid.NewString()
	}
	if row.CreatedTS.IsZero() {
		row.CreatedTS = time.Now().UTC()
	}

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s (
			output_id,
			model_name,
			utterance,
			raw_text,
			error,
			created_ts
		)
		VALUES (
			@output_id,
			@model_name,
			@utterance,
			@raw_text,
			@error,
			@created_ts
		)
	`, r.dataset.Table(modelOutputsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "utterance", Value: row.Utterance},
		{Name: "raw_text", Value: row.RawText},
		{Name: "error", Value: row.Error},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertModelOutput: %w", err)
	}
	return nil
}
