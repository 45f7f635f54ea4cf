package review

import (
	"errors"

	"github.com/dvloznov/voice-ledger/internal/domain"
)

// State is the lifecycle state of a review.
type State string

const (
	StateExtracted   State = "extracted"
	StatePreviewed   State = "previewed"
	StateEditing     State = "editing"
	StateConfirmed   State = "confirmed"
	StateDiscarded   State = "discarded"
	StateRerecording State = "rerecording"
)

// Open reports whether the review still accepts edits and commands.
func (s State) Open() bool {
	return s == StatePreviewed || s == StateEditing
}

// Mode says whether a transaction involves one entity or two.
type Mode string

const (
	ModeIndividual Mode = "individual"
	ModeTransfer   Mode = "transfer"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeIndividual || m == ModeTransfer
}

// Band is a coarse confidence bucket.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

const (
	highThreshold   = 0.8
	mediumThreshold = 0.6
)

// BandFor buckets a confidence score.
func BandFor(confidence float64) Band {
	switch {
	case confidence >= highThreshold:
		return BandHigh
	case confidence >= mediumThreshold:
		return BandMedium
	}
	return BandLow
}

// Warning returns the message shown for the band, empty for BandHigh.
func (b Band) Warning() string {
	switch b {
	case BandLow:
		return "Low confidence: check every field before confirming."
	case BandMedium:
		return "Medium confidence: check the fields before confirming."
	}
	return ""
}

// Field names an editable field.
type Field string

const (
	FieldType        Field = "type"
	FieldAmount      Field = "amount"
	FieldDescription Field = "description"
	FieldDate        Field = "date"
	FieldOrigin      Field = "origin"
	FieldDestination Field = "destination"
	FieldCategory    Field = "category"
	FieldMode        Field = "mode"
)

// Preview is what the user sees while reviewing a draft.
type Preview struct {
	State        State                      `json:"state"`
	Band         Band                       `json:"band"`
	Warning      string                     `json:"warning,omitempty"`
	Mode         Mode                       `json:"mode"`
	ModeLocked   bool                       `json:"mode_locked"`
	Form         domain.TransactionFormData `json:"form"`
	Categories   []domain.Category          `json:"categories"`
	Entities     []domain.Entity            `json:"entities"`
	CanConfirm   bool                       `json:"can_confirm"`
	Confidence   float64                    `json:"confidence"`
	OriginalText string                     `json:"original_text"`
	EditedFields []Field                    `json:"edited_fields"`
}

var (
	// ErrValidationBlocked means confirm was attempted with a non-positive
	// amount.
	ErrValidationBlocked = errors.New("review: confirm blocked, amount must be positive")

	// ErrWrongMode means a field edit does not apply to the current mode.
	ErrWrongMode = errors.New("review: edit not allowed in current mode")

	ErrIncompatibleCategory = errors.New("review: category not compatible with transaction type")
	ErrUnknownCategory      = errors.New("review: unknown category")
	ErrUnknownEntity        = errors.New("review: unknown or inactive entity")
	ErrInvalidType          = errors.New("review: invalid transaction type")
	ErrInvalidMode          = errors.New("review: invalid mode")
	ErrInvalidAmount        = errors.New("review: invalid amount")
	ErrInvalidDate          = errors.New("review: invalid date")

	// ErrClosed means the review was already confirmed, discarded or
	// handed back for re-recording.
	ErrClosed = errors.New("review: closed")
)
