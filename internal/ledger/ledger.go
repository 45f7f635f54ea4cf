// Package ledger defines the persistence contract the capture pipeline
// reads reference data from and commits confirmed transactions to.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dvloznov/voice-ledger/internal/domain"
)

var (
	// ErrNotFound means the referenced transaction does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrInvalid means a transaction failed validation before any write.
	ErrInvalid = errors.New("ledger: invalid transaction")
)

// ReferenceReader exposes the read side used during capture.
type ReferenceReader interface {
	ListEntities(ctx context.Context) ([]domain.Entity, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// Repository is the persistence collaborator.
type Repository interface {
	ReferenceReader
	ListPairwiseBalances(ctx context.Context) ([]domain.PairwiseBalance, error)
	CreateTransaction(ctx context.Context, form domain.TransactionFormData) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, form domain.TransactionFormData) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	Close() error
}

// ValidateForm checks a transaction against the reference data. It is used
// by manual entry and by backends before writing.
func ValidateForm(form domain.TransactionFormData, entities []domain.Entity, categories []domain.Category) error {
	if !form.Type.Valid() {
		return fmt.Errorf("type %q: %w", form.Type, ErrInvalid)
	}
	if math.IsNaN(form.Amount) || math.IsInf(form.Amount, 0) || form.Amount <= 0 {
		return fmt.Errorf("amount must be positive: %w", ErrInvalid)
	}
	if !form.Date.IsValid() {
		return fmt.Errorf("date %v: %w", form.Date, ErrInvalid)
	}
	for _, id := range []string{form.OriginID, form.DestinationID} {
		if id == "" {
			continue
		}
		if _, ok := domain.FindEntity(entities, id); !ok {
			return fmt.Errorf("entity %q: %w", id, ErrInvalid)
		}
	}
	if form.IsTransfer() && form.OriginID == form.DestinationID {
		return fmt.Errorf("origin and destination are the same entity: %w", ErrInvalid)
	}
	if form.CategoryID != "" {
		cat, ok := domain.FindCategory(categories, form.CategoryID)
		if !ok {
			return fmt.Errorf("category %q: %w", form.CategoryID, ErrInvalid)
		}
		if !cat.CompatibleWith(form.Type) {
			return fmt.Errorf("category %q does not apply to %s: %w", cat.Name, form.Type, ErrInvalid)
		}
	}
	return nil
}

// NetTransfers computes one pairwise balance per unordered pair of entities
// that transferred money. A transfer of X from origin O to destination D
// leaves D owing X to O. Each pair is reported once, oriented so the amount
// is not negative; settled pairs are reported with a zero amount.
func NetTransfers(txs []domain.Transaction, entities []domain.Entity) []domain.PairwiseBalance {
	names := make(map[string]string, len(entities))
	for _, e := range entities {
		names[e.ID] = e.Name
	}

	net := make(map[[2]string]float64)
	var order [][2]string
	for _, tx := range txs {
		if !tx.IsTransfer() || tx.OriginID == tx.DestinationID {
			continue
		}
		key, amount := [2]string{tx.OriginID, tx.DestinationID}, tx.Amount
		if key[1] < key[0] {
			key, amount = [2]string{key[1], key[0]}, -amount
		}
		if _, ok := net[key]; !ok {
			order = append(order, key)
		}
		net[key] += amount
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})

	out := make([]domain.PairwiseBalance, 0, len(order))
	for _, key := range order {
		origin, dest, amount := key[0], key[1], round2(net[key])
		if amount < 0 {
			origin, dest, amount = dest, origin, -amount
		}
		if amount == 0 {
			amount = 0 // drop negative zero
		}
		out = append(out, domain.PairwiseBalance{
			OriginID:        origin,
			OriginName:      names[origin],
			DestinationID:   dest,
			DestinationName: names[dest],
			Amount:          amount,
		})
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
