// Package balance folds pairwise balances into a matrix and per-entity
// totals. Everything here is pure and safe for concurrent use.
package balance

import (
	"sort"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Matrix is a square view over every entity appearing in a balance set.
type Matrix struct {
	Entities []domain.Entity               `json:"entities"`
	Cells    map[string]map[string]float64 `json:"matrix"`
}

// Cell returns the value at row a, column b. self is true on the diagonal,
// which callers render distinctly from a settled zero.
func (m Matrix) Cell(a, b string) (value float64, self bool) {
	if a == b {
		return 0, true
	}
	return m.Cells[a][b], false
}

// BuildMatrix indexes balances by origin and destination. Entities appear in
// order of first appearance. Cells start at zero and each record is assigned
// verbatim; no mirror value is derived for the opposite direction.
func BuildMatrix(balances []domain.PairwiseBalance) Matrix {
	entities := collectEntities(balances)

	cells := make(map[string]map[string]float64, len(entities))
	for _, row := range entities {
		cells[row.ID] = make(map[string]float64, len(entities))
		for _, col := range entities {
			cells[row.ID][col.ID] = 0
		}
	}

	for _, b := range balances {
		if b.OriginID == b.DestinationID {
			continue
		}
		cells[b.OriginID][b.DestinationID] = b.Amount
	}

	return Matrix{Entities: entities, Cells: cells}
}

// Totals is the net position of one entity.
type Totals struct {
	Name       string          `json:"name"`
	Receivable decimal.Decimal `json:"receivable"`
	Payable    decimal.Decimal `json:"payable"`
}

// Net returns receivable minus payable.
func (t Totals) Net() decimal.Decimal {
	return t.Receivable.Sub(t.Payable)
}

// PerEntityTotals sums receivables and payables. A positive amount is
// receivable for the origin and payable for the destination; a negative
// amount inverts the roles; zero contributes nothing.
func PerEntityTotals(balances []domain.PairwiseBalance) map[string]Totals {
	totals := make(map[string]Totals)
	for _, e := range collectEntities(balances) {
		totals[e.ID] = Totals{Name: e.Name, Receivable: decimal.Zero, Payable: decimal.Zero}
	}

	for _, b := range balances {
		if b.OriginID == b.DestinationID {
			continue
		}
		amount := decimal.NewFromFloat(b.Amount)
		creditor, debtor := b.OriginID, b.DestinationID
		switch amount.Sign() {
		case 0:
			continue
		case -1:
			creditor, debtor = debtor, creditor
			amount = amount.Abs()
		}

		c := totals[creditor]
		c.Receivable = c.Receivable.Add(amount)
		totals[creditor] = c

		d := totals[debtor]
		d.Payable = d.Payable.Add(amount)
		totals[debtor] = d
	}
	return totals
}

// NonZero keeps the balances that are not settled, preserving order.
func NonZero(balances []domain.PairwiseBalance) []domain.PairwiseBalance {
	out := make([]domain.PairwiseBalance, 0, len(balances))
	for _, b := range balances {
		if b.Amount != 0 {
			out = append(out, b)
		}
	}
	return out
}

// Asymmetry is an unordered pair whose two directed values are not exact
// negatives of each other.
type Asymmetry struct {
	A    string  `json:"a"`
	B    string  `json:"b"`
	AtoB float64 `json:"a_to_b"`
	BtoA float64 `json:"b_to_a"`
}

// AsymmetricPairs reports pairs recorded in both directions with values
// that do not cancel. It never alters the input.
func AsymmetricPairs(balances []domain.PairwiseBalance) []Asymmetry {
	directed := make(map[[2]string]float64, len(balances))
	for _, b := range balances {
		directed[[2]string{b.OriginID, b.DestinationID}] = b.Amount
	}

	var out []Asymmetry
	seen := make(map[[2]string]bool)
	for _, b := range balances {
		a, c := b.OriginID, b.DestinationID
		if a == c {
			continue
		}
		key := [2]string{a, c}
		if c < a {
			key = [2]string{c, a}
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		ab, okAB := directed[key]
		ba, okBA := directed[[2]string{key[1], key[0]}]
		if !okAB || !okBA {
			continue
		}
		if !decimal.NewFromFloat(ab).Equal(decimal.NewFromFloat(ba).Neg()) {
			out = append(out, Asymmetry{A: key[0], B: key[1], AtoB: ab, BtoA: ba})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func collectEntities(balances []domain.PairwiseBalance) []domain.Entity {
	seen := make(map[string]bool)
	var entities []domain.Entity
	add := func(id, name string) {
		if seen[id] {
			return
		}
		seen[id] = true
		entities = append(entities, domain.Entity{ID: id, Name: name, Active: true})
	}
	for _, b := range balances {
		add(b.OriginID, b.OriginName)
		add(b.DestinationID, b.DestinationName)
	}
	return entities
}
