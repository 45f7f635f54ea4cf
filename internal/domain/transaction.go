package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// TransactionType is the direction of money for a single transaction.
type TransactionType string

const (
	// TypeIncome is money received by the entity.
	TypeIncome TransactionType = "income"
	// TypeExpense is money paid by the entity.
	TypeExpense TransactionType = "expense"
)

// Valid reports whether t is one of the two recognized types.
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// TransactionDraft is the validated output of one extraction call.
// Names are free text as returned by the model; resolution happens later.
type TransactionDraft struct {
	Type                  TransactionType `json:"type"`
	Amount                float64         `json:"amount"`
	Description           string          `json:"description"`
	OriginName            *string         `json:"origin_name"`
	DestinationName       *string         `json:"destination_name"`
	SuggestedCategoryName *string         `json:"suggested_category"`
	Date                  civil.Date      `json:"date"`
	Confidence            float64         `json:"confidence"`
	OriginalText          string          `json:"original_text"`
}

// ResolvedDraft is a TransactionDraft whose names were mapped to ids.
// An empty id means the name did not resolve (or was absent).
type ResolvedDraft struct {
	Type          TransactionType `json:"type"`
	Amount        float64         `json:"amount"`
	Description   string          `json:"description"`
	OriginID      string          `json:"origin_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	CategoryID    string          `json:"category_id,omitempty"`
	Date          civil.Date      `json:"date"`
	Confidence    float64         `json:"confidence"`
	OriginalText  string          `json:"original_text"`
}

// TransactionFormData is the create/update input accepted by the ledger.
type TransactionFormData struct {
	Type          TransactionType `json:"type"`
	Amount        float64         `json:"amount"`
	Description   string          `json:"description"`
	Date          civil.Date      `json:"date"`
	OriginID      string          `json:"origin_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	CategoryID    string          `json:"category_id,omitempty"`
}

// FormData returns the editable fields of the draft.
func (d ResolvedDraft) FormData() TransactionFormData {
	return TransactionFormData{
		Type:          d.Type,
		Amount:        d.Amount,
		Description:   d.Description,
		Date:          d.Date,
		OriginID:      d.OriginID,
		DestinationID: d.DestinationID,
		CategoryID:    d.CategoryID,
	}
}

// IsTransfer reports whether both parties are set.
func (f TransactionFormData) IsTransfer() bool {
	return f.OriginID != "" && f.DestinationID != ""
}

// Transaction is a committed ledger record.
type Transaction struct {
	ID string `json:"id"`
	TransactionFormData
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
