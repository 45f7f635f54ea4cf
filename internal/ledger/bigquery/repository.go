// Package bigquery is a ledger backend on BigQuery. Reference tables are
// read with parameterized queries and transactions are written with DML.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	entitiesTable        = "entities"
	categoriesTable      = "categories"
	transactionsTable    = "transactions"
	pairwiseBalancesView = "pairwise_balances"
	modelOutputsTable    = "model_outputs"
	defaultDatasetID     = "ledger"
)

// Dataset names a BigQuery dataset and renders fully qualified table refs.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the backtick-quoted project.dataset.table reference.
func (d Dataset) Table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

// Repository implements ledger.Repository using a shared BigQuery client.
type Repository struct {
	client  *bigquery.Client
	dataset Dataset
}

// New creates a Repository with a new BigQuery client.
func New(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	if projectID == "" {
		return nil, fmt.Errorf("New: project id is required")
	}
	if datasetID == "" {
		datasetID = defaultDatasetID
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: bigquery client: %w", err)
	}
	return NewWithClient(client, Dataset{ProjectID: projectID, DatasetID: datasetID}), nil
}

// NewWithClient wraps an existing client. Close closes the client.
func NewWithClient(client *bigquery.Client, dataset Dataset) *Repository {
	return &Repository{client: client, dataset: dataset}
}

// Close closes the underlying BigQuery client.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// runDML executes a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}
