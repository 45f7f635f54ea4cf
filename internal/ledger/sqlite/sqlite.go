// Package sqlite is a ledger backend on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// Repository implements ledger.Repository on SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating when needed) the database at dbPath and applies
// migrations.
func Open(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("Open: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("Open: open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}

	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, active FROM entities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ListEntities: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		var e domain.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Active); err != nil {
			return nil, fmt.Errorf("ListEntities: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEntities: rows: %w", err)
	}
	return out, nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, kind FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		var kind string
		if err := rows.Scan(&c.ID, &c.Name, &kind); err != nil {
			return nil, fmt.Errorf("ListCategories: scan: %w", err)
		}
		c.Kind = domain.CategoryKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCategories: rows: %w", err)
	}
	return out, nil
}

func (r *Repository) ListPairwiseBalances(ctx context.Context) ([]domain.PairwiseBalance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			pb.origin_id, o.name,
			pb.destination_id, d.name,
			pb.amount_cents
		FROM pairwise_balances pb
		JOIN entities o ON o.id = pb.origin_id
		JOIN entities d ON d.id = pb.destination_id
		ORDER BY o.name, d.name
	`)
	if err != nil {
		return nil, fmt.Errorf("ListPairwiseBalances: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PairwiseBalance
	for rows.Next() {
		var b domain.PairwiseBalance
		var cents int64
		if err := rows.Scan(&b.OriginID, &b.OriginName, &b.DestinationID, &b.DestinationName, &cents); err != nil {
			return nil, fmt.Errorf("ListPairwiseBalances: scan: %w", err)
		}
		b.Amount = fromCents(cents)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPairwiseBalances: rows: %w", err)
	}
	return out, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, form domain.TransactionFormData) (*domain.Transaction, error) {
	if err := r.validate(ctx, form); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	tx := &domain.Transaction{
		ID:                  uuid.NewString(),
		TransactionFormData: form,
		CreatedAt:           r.now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, type, amount_cents, description, date,
			origin_id, destination_id, category_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(form.Type), toCents(form.Amount), form.Description, form.Date.String(),
		nullable(form.OriginID), nullable(form.DestinationID), nullable(form.CategoryID),
		tx.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: insert: %w", err)
	}
	return tx, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, id string, form domain.TransactionFormData) (*domain.Transaction, error) {
	if err := r.validate(ctx, form); err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}

	updated := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET
			type = ?, amount_cents = ?, description = ?, date = ?,
			origin_id = ?, destination_id = ?, category_id = ?, updated_at = ?
		WHERE id = ?`,
		string(form.Type), toCents(form.Amount), form.Description, form.Date.String(),
		nullable(form.OriginID), nullable(form.DestinationID), nullable(form.CategoryID),
		updated.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return nil, fmt.Errorf("UpdateTransaction: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("UpdateTransaction: %q: %w", id, ledger.ErrNotFound)
	}

	return r.getTransaction(ctx, id)
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("DeleteTransaction: %q: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (r *Repository) getTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var (
		tx                   domain.Transaction
		typ, date, createdAt string
		cents                int64
		origin, dest, cat    sql.NullString
		updatedAt            sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, amount_cents, description, date,
		       origin_id, destination_id, category_id, created_at, updated_at
		FROM transactions WHERE id = ?`, id,
	).Scan(&tx.ID, &typ, &cents, &tx.Description, &date, &origin, &dest, &cat, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getTransaction: %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getTransaction: scan: %w", err)
	}

	tx.Type = domain.TransactionType(typ)
	tx.Amount = fromCents(cents)
	tx.OriginID, tx.DestinationID, tx.CategoryID = origin.String, dest.String, cat.String
	if tx.Date, err = civil.ParseDate(date); err != nil {
		return nil, fmt.Errorf("getTransaction: date %q: %w", date, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("getTransaction: created_at %q: %w", createdAt, err)
	}
	if updatedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, updatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("getTransaction: updated_at %q: %w", updatedAt.String, err)
		}
		tx.UpdatedAt = &t
	}
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

func toCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
