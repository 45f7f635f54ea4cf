// Command migrate applies the BigQuery ledger schema migrations.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/dvloznov/voice-ledger/internal/config"
	ledgerbq "github.com/dvloznov/voice-ledger/internal/ledger/bigquery"
	"github.com/dvloznov/voice-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	projectID := flag.String("project", cfg.BigQueryProject, "GCP project ID")
	datasetID := flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
	appliedBy := flag.String("applied-by", "migrate-cli", "name recorded in schema_migrations")
	flag.Parse()

	log := logger.New(cfg.LogLevel)
	if *projectID == "" {
		log.Error().Msg("-project flag or BIGQUERY_PROJECT is required")
		os.Exit(2)
	}

	ctx := context.Background()
	repo, err := ledgerbq.New(ctx, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create BigQuery repository")
	}
	defer repo.Close()

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("applying migrations")

	n, err := repo.Migrate(ctx, *appliedBy, logger.Component(log, "migrate"))
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("migration failed")
	}
	if n == 0 {
		log.Info().Msg("no new migrations to apply")
		return
	}
	log.Info().Int("applied", n).Msg("migrations applied")
}
