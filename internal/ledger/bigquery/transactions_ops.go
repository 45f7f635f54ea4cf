package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// CreateTransaction validates form against the reference tables and inserts
// a new row.
func (r *Repository) CreateTransaction(ctx context.Context, form domain.TransactionFormData) (*domain.Transaction, error) {
	if err := r.validate(ctx, form); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	row := TransactionRow{
		TransactionID:       uuid.NewString(),
		Direction:           strings.ToUpper(string(form.Type)),
		Amount:              ratFromAmount(form.Amount),
		Description:         form.Description,
		TransactionDate:     form.Date,
		OriginEntityID:      nullString(form.OriginID),
		DestinationEntityID: nullString(form.DestinationID),
		CategoryID:          nullString(form.CategoryID),
		CreatedTS:           time.Now().UTC(),
	}

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s (
			transaction_id,
			direction,
			amount,
			description,
			transaction_date,
			origin_entity_id,
			destination_entity_id,
			category_id,
			created_ts
		)
		VALUES (
			@transaction_id,
			@direction,
			@amount,
			@description,
			@transaction_date,
			@origin_entity_id,
			@destination_entity_id,
			@category_id,
			@created_ts
		)
	`, r.dataset.Table(transactionsTable)))
	q.Parameters = transactionParams(row)

	if _, err := runDML(ctx, q); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	tx := row.toDomain()
	return &tx, nil
}

// UpdateTransaction overwrites the editable fields of an existing row.
func (r *Repository) UpdateTransaction(ctx context.Context, id string, form domain.TransactionFormData) (*domain.Transaction, error) {
	if err := r.validate(ctx, form); err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}

	row := TransactionRow{
		TransactionID:       id,
		Direction:           strings.ToUpper(string(form.Type)),
		Amount:              ratFromAmount(form.Amount),
		Description:         form.Description,
		TransactionDate:     form.Date,
		OriginEntityID:      nullString(form.OriginID),
		DestinationEntityID: nullString(form.DestinationID),
		CategoryID:          nullString(form.CategoryID),
	}

	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET
			direction = @direction,
			amount = @amount,
			description = @description,
			transaction_date = @transaction_date,
			origin_entity_id = @origin_entity_id,
			destination_entity_id = @destination_entity_id,
			category_id = @category_id,
			updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @transaction_id
	`, r.dataset.Table(transactionsTable)))
	q.Parameters = transactionParams(row)

	n, err := runDML(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("UpdateTransaction: %q: %w", id, ledger.ErrNotFound)
	}

	return r.getTransaction(ctx, id)
}

// DeleteTransaction removes a transaction by id.
func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	q := r.client.Query(fmt.Sprintf(`
		DELETE FROM %s
		WHERE transaction_id = @transaction_id
	`, r.dataset.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("DeleteTransaction: %q: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (r *Repository) getTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			direction,
			amount,
			description,
			transaction_date,
			origin_entity_id,
			destination_entity_id,
			category_id,
			source,
			created_ts,
			updated_ts
		FROM %s
		WHERE transaction_id = @transaction_id
		LIMIT 1
	`, r.dataset.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("getTransaction: query.Read: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("getTransaction: %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getTransaction: reading row: %w", err)
	}

	tx := row.toDomain()
	return &tx, nil
}

func (r *Repository) validate(ctx context.Context, form domain.TransactionFormData) error {
	entities, err := r.ListEntities(ctx)
	if err != nil {
		return err
	}
	categories, err := r.ListCategories(ctx)
	if err != nil {
		return err
	}
	return ledger.ValidateForm(form, entities, categories)
}

func transactionParams(row TransactionRow) []bigquery.QueryParameter {
	params := []bigquery.QueryParameter{
		{Name: "transaction_id", Value: row.TransactionID},
		{Name: "direction", Value: row.Direction},
		{Name: "amount", Value: row.Amount},
		{Name: "description", Value: row.Description},
		{Name: "transaction_date", Value: row.TransactionDate},
		{Name: "origin_entity_id", Value: row.OriginEntityID},
		{Name: "destination_entity_id", Value: row.DestinationEntityID},
		{Name: "category_id", Value: row.CategoryID},
	}
	if !row.CreatedTS.IsZero() {
		params = append(params, bigquery.QueryParameter{Name: "created_ts", Value: row.CreatedTS})
	}
	return params
}
