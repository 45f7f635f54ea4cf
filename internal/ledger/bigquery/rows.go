package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

type EntityRow struct {
	EntityID string              `bigquery:"entity_id"` // REQUIRED
	Name     string              `bigquery:"name"`      // REQUIRED
	IsActive bigquery.NullBool   `bigquery:"is_active"` // NULLABLE, missing means active
	Notes    bigquery.NullString `bigquery:"notes"`     // NULLABLE
}

type CategoryRow struct {
	CategoryID string              `bigquery:"category_id"` // REQUIRED
	Name       string              `bigquery:"name"`        // REQUIRED
	Kind       string              `bigquery:"kind"`        // REQUIRED: INCOME | EXPENSE | BOTH
	IsActive   bigquery.NullBool   `bigquery:"is_active"`   // NULLABLE
	Slug       bigquery.NullString `bigquery:"slug"`        // NULLABLE
}

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	Direction       string     `bigquery:"direction"`        // REQUIRED: INCOME | EXPENSE
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	Description     string     `bigquery:"description"`      // REQUIRED STRING
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	OriginEntityID      bigquery.NullString `bigquery:"origin_entity_id"`      // NULLABLE
	DestinationEntityID bigquery.NullString `bigquery:"destination_entity_id"` // NULLABLE
	CategoryID          bigquery.NullString `bigquery:"category_id"`           // NULLABLE

	Source bigquery.NullString `bigquery:"source"` // NULLABLE: VOICE | MANUAL

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

type PairwiseBalanceRow struct {
	OriginEntityID      string   `bigquery:"origin_entity_id"`
	OriginName          string   `bigquery:"origin_name"`
	DestinationEntityID string   `bigquery:"destination_entity_id"`
	DestinationName     string   `bigquery:"destination_name"`
	Balance             *big.Rat `bigquery:"balance"` // NUMERIC, positive when origin is owed
}

type ModelOutputRow struct {
	OutputID  string `bigquery:"output_id"`  // REQUIRED
	ModelName string `bigquery:"model_name"` // REQUIRED

	Utterance string              `bigquery:"utterance"` // REQUIRED
	RawText   bigquery.NullString `bigquery:"raw_text"`  // NULLABLE
	Error     bigquery.NullString `bigquery:"error"`     // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}
