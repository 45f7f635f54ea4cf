package domain

// Entity is a company (or person) that takes part in transactions.
type Entity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// CategoryKind restricts which transaction types a category applies to.
type CategoryKind string

const (
	KindIncome  CategoryKind = "income"
	KindExpense CategoryKind = "expense"
	KindBoth    CategoryKind = "both"
)

// Category classifies a transaction.
type Category struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Kind CategoryKind `json:"kind"`
}

// CompatibleWith reports whether the category may be used for t.
func (c Category) CompatibleWith(t TransactionType) bool {
	switch c.Kind {
	case KindBoth:
		return true
	case KindIncome:
		return t == TypeIncome
	case KindExpense:
		return t == TypeExpense
	}
	return false
}

// FilterCategories keeps the categories compatible with t, preserving order.
func FilterCategories(categories []Category, t TransactionType) []Category {
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		if c.CompatibleWith(t) {
			out = append(out, c)
		}
	}
	return out
}

// ActiveEntities keeps the active entities, preserving order.
func ActiveEntities(entities []Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Active {
			out = append(out, e)
		}
	}
	return out
}

// FindCategory returns the category with the given id.
func FindCategory(categories []Category, id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// FindEntity returns the entity with the given id.
func FindEntity(entities []Entity, id string) (Entity, bool) {
	for _, e := range entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// PairwiseBalance is the net amount along one directed edge between two
// entities. A positive Amount means the origin is owed by the destination.
type PairwiseBalance struct {
	OriginID        string  `json:"origin_id"`
	OriginName      string  `json:"origin_name"`
	DestinationID   string  `json:"destination_id"`
	DestinationName string  `json:"destination_name"`
	Amount          float64 `json:"amount"`
}
