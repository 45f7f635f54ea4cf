package bigquery

import (
	"math/big"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func (r EntityRow) toDomain() domain.Entity {
	return domain.Entity{
		ID:     r.EntityID,
		Name:   r.Name,
		Active: !r.IsActive.Valid || r.IsActive.Bool,
	}
}

func (r CategoryRow) toDomain() domain.Category {
	return domain.Category{
		ID:   r.CategoryID,
		Name: r.Name,
		Kind: domain.CategoryKind(strings.ToLower(r.Kind)),
	}
}

func (r TransactionRow) toDomain() domain.Transaction {
	tx := domain.Transaction{
		ID: r.TransactionID,
		TransactionFormData: domain.TransactionFormData{
			Type:          domain.TransactionType(strings.ToLower(r.Direction)),
			Amount:        amountFromRat(r.Amount),
			Description:   r.Description,
			Date:          r.TransactionDate,
			OriginID:      r.OriginEntityID.StringVal,
			DestinationID: r.DestinationEntityID.StringVal,
			CategoryID:    r.CategoryID.StringVal,
		},
		CreatedAt: r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		t := r.UpdatedTS.Timestamp
		tx.UpdatedAt = &t
	}
	return tx
}

func (r PairwiseBalanceRow) toDomain() domain.PairwiseBalance {
	return domain.PairwiseBalance{
		OriginID:        r.OriginEntityID,
		OriginName:      r.OriginName,
		DestinationID:   r.DestinationEntityID,
		DestinationName: r.DestinationName,
		Amount:          amountFromRat(r.Balance),
	}
}

// ratFromAmount converts a form amount to a NUMERIC value rounded to cents.
func ratFromAmount(amount float64) *big.Rat {
	return decimal.NewFromFloat(amount).Round(2).Rat()
}

func amountFromRat(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	d, err := decimal.NewFromString(r.FloatString(2))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
