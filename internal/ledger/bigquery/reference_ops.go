package bigquery

import (
	"context"
	"fmt"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"google.golang.org/api/iterator"
)

// ListEntities returns every entity ordered by name. Inactive entities are
// included; callers filter them for capture.
func (r *Repository) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT entity_id, name, is_active, notes
		FROM %s
		ORDER BY name
	`, r.dataset.Table(entitiesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListEntities: query.Read: %w", err)
	}

	var out []domain.Entity
	for {
		var row EntityRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListEntities: iterating rows: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListCategories returns the active categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT category_id, name, kind, is_active, slug
		FROM %s
		WHERE is_active IS NULL OR is_active = TRUE
		ORDER BY name
	`, r.dataset.Table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query.Read: %w", err)
	}

	var out []domain.Category
	for {
		var row CategoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategories: iterating rows: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListPairwiseBalances reads the netted balances view joined with entity names.
func (r *Repository) ListPairwiseBalances(ctx context.Context) ([]domain.PairwiseBalance, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			pb.origin_entity_id,
			o.name AS origin_name,
			pb.destination_entity_id,
			d.name AS destination_name,
			pb.balance
		FROM %s pb
		JOIN %s o ON o.entity_id = pb.origin_entity_id
		JOIN %s d ON d.entity_id = pb.destination_entity_id
		ORDER BY origin_name, destination_name
	`, r.dataset.Table(pairwiseBalancesView), r.dataset.Table(entitiesTable), r.dataset.Table(entitiesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListPairwiseBalances: query.Read: %w", err)
	}

	var out []domain.PairwiseBalance
	for {
		var row PairwiseBalanceRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListPairwiseBalances: iterating rows: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}
