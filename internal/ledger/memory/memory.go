// Package memory is an in-process ledger backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/google/uuid"
)

// Repository keeps entities, categories and transactions in memory.
type Repository struct {
	mu         sync.RWMutex
	entities   []domain.Entity
	categories []domain.Category
	txs        []domain.Transaction
	now        func() time.Time
}

// New creates a repository holding the given reference data.
func New(entities []domain.Entity, categories []domain.Category) *Repository {
	return &Repository{
		entities:   append([]domain.Entity(nil), entities...),
		categories: append([]domain.Category(nil), categories...),
		now:        time.Now,
	}
}

// NewSeeded creates a repository with a small demo registry.
func NewSeeded() *Repository {
	return New(
		[]domain.Entity{
			{ID: "ent-loja-centro", Name: "Loja Centro", Active: true},
			{ID: "ent-loja-norte", Name: "Loja Norte", Active: true},
			{ID: "ent-padaria", Name: "Padaria Pão Quente", Active: true},
			{ID: "ent-holding", Name: "Holding", Active: true},
			{ID: "ent-filial-antiga", Name: "Filial Antiga", Active: false},
		},
		[]domain.Category{
			{ID: "cat-vendas", Name: "Vendas", Kind: domain.KindIncome},
			{ID: "cat-servicos", Name: "Serviços", Kind: domain.KindIncome},
			{ID: "cat-aluguel", Name: "Aluguel", Kind: domain.KindExpense},
			{ID: "cat-fornecedores", Name: "Fornecedores", Kind: domain.KindExpense},
			{ID: "cat-salarios", Name: "Salários", Kind: domain.KindExpense},
			{ID: "cat-transferencias", Name: "Transferências", Kind: domain.KindBoth},
			{ID: "cat-outros", Name: "Outros", Kind: domain.KindBoth},
		},
	)
}

func (r *Repository) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Entity(nil), r.entities...), nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Category(nil), r.categories...), nil
}

// ListTransactions returns committed transactions in creation order.
func (r *Repository) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Transaction(nil), r.txs...), nil
}

func (r *Repository) ListPairwiseBalances(ctx context.Context) ([]domain.PairwiseBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ledger.NetTransfers(r.txs, r.entities), nil
}

func (r *Repository) CreateTransaction(ctx context.Context, form domain.TransactionFormData) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ledger.ValidateForm(form, r.entities, r.categories); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	tx := domain.Transaction{
		ID:                  uuid.NewString(),
		TransactionFormData: form,
		CreatedAt:           r.now().UTC(),
	}
	r.txs = append(r.txs, tx)
	return &tx, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, id string, form domain.TransactionFormData) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("UpdateTransaction: %q: %w", id, ledger.ErrNotFound)
	}
	if err := ledger.ValidateForm(form, r.entities, r.categories); err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}

	updated := r.now().UTC()
	r.txs[i].TransactionFormData = form
	r.txs[i].UpdatedAt = &updated
	tx := r.txs[i]
	return &tx, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("DeleteTransaction: %q: %w", id, ledger.ErrNotFound)
	}
	r.txs = append(r.txs[:i], r.txs[i+1:]...)
	return nil
}

func (r *Repository) Close() error {
	return nil
}

func (r *Repository) indexOf(id string) int {
	for i, tx := range r.txs {
		if tx.ID == id {
			return i
		}
	}
	return -1
}
