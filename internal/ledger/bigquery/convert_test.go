package bigquery

import (
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
)

var _ ledger.Repository = (*Repository)(nil)

func TestDataset_Table(t *testing.T) {
	d := Dataset{ProjectID: "proj", DatasetID: "ledger"}
	if got, want := d.Table("transactions"), "`proj.ledger.transactions`"; got != want {
		t.Errorf("Table() = %q, want %q", got, want)
	}
}

func TestEntityRow_ActiveDefault(t *testing.T) {
	tests := []struct {
		name   string
		active bigquery.NullBool
		want   bool
	}{
		{"null means active", bigquery.NullBool{}, true},
		{"explicit true", bigquery.NullBool{Bool: true, Valid: true}, true},
		{"explicit false", bigquery.NullBool{Bool: false, Valid: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := EntityRow{EntityID: "e1", Name: "Loja", IsActive: tt.active}.toDomain()
			if e.Active != tt.want {
				t.Errorf("Active = %v, want %v", e.Active, tt.want)
			}
		})
	}
}

func TestCategoryRow_Kind(t *testing.T) {
	c := CategoryRow{CategoryID: "c1", Name: "Vendas", Kind: "INCOME"}.toDomain()
	if c.Kind != domain.KindIncome {
		t.Errorf("Kind = %q, want %q", c.Kind, domain.KindIncome)
	}
}

func TestTransactionRow_ToDomain(t *testing.T) {
	created := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	row := TransactionRow{
		TransactionID:   "tx-1",
		Direction:       "EXPENSE",
		Amount:          big.NewRat(10010, 100),
		Description:     "aluguel",
		TransactionDate: civil.Date{Year: 2024, Month: 3, Day: 15},
		OriginEntityID:  nullString("ent-loja-centro"),
		CategoryID:      nullString("cat-aluguel"),
		CreatedTS:       created,
		UpdatedTS:       bigquery.NullTimestamp{Timestamp: updated, Valid: true},
	}

	tx := row.toDomain()
	if tx.Type != domain.TypeExpense || tx.Amount != 100.1 {
		t.Errorf("type/amount = %q/%v", tx.Type, tx.Amount)
	}
	if tx.OriginID != "ent-loja-centro" || tx.DestinationID != "" || tx.CategoryID != "cat-aluguel" {
		t.Errorf("ids = %+v", tx.TransactionFormData)
	}
	if tx.UpdatedAt == nil || !tx.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", tx.UpdatedAt, updated)
	}
}

func TestAmountConversion(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{100.1, "100.10"},
		{0.29, "0.29"},
		{19.995, "20.00"},
	}
	for _, tt := range tests {
		if got := ratFromAmount(tt.in).FloatString(2); got != tt.want {
			t.Errorf("ratFromAmount(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if got := amountFromRat(big.NewRat(701, 10)); got != 70.1 {
		t.Errorf("amountFromRat(70.1) = %v", got)
	}
	if got := amountFromRat(nil); got != 0 {
		t.Errorf("amountFromRat(nil) = %v, want 0", got)
	}
}

func TestTransactionParams_OmitsCreatedOnUpdate(t *testing.T) {
	params := transactionParams(TransactionRow{TransactionID: "tx"})
	for _, p := range params {
		if p.Name == "created_ts" {
			t.Fatal("created_ts parameter present for a row without CreatedTS")
		}
	}
}
