// Package review drives a resolved draft from extraction to a confirmed
// transaction, keeping the mode, the entity slots and the category
// consistent while the user edits.
package review

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// Controller owns one ReviewState. It is safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	state      State
	confidence float64
	original   string
	form       domain.TransactionFormData
	mode       Mode
	modeLocked bool
	edited     map[Field]bool

	entities   []domain.Entity
	categories []domain.Category

	log zerolog.Logger
}

// New creates a controller in StateExtracted for draft. Only active
// entities are offered for selection.
func New(draft *domain.ResolvedDraft, entities []domain.Entity, categories []domain.Category, log zerolog.Logger) *Controller {
	c := &Controller{
		state:      StateExtracted,
		confidence: draft.Confidence,
		original:   draft.OriginalText,
		form:       draft.FormData(),
		edited:     make(map[Field]bool),
		entities:   domain.ActiveEntities(entities),
		categories: categories,
		log:        log,
	}
	if !c.form.Type.Valid() {
		c.form.Type = domain.TypeExpense
	}
	c.dropUnknownEntities()
	c.dropIncompatibleCategory()
	c.inferMode()
	return c
}

// Present moves an extracted draft to StatePreviewed and returns the view.
// On an open review it only returns the view.
func (c *Controller) Present() (Preview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateExtracted:
		c.state = StatePreviewed
		band := BandFor(c.confidence)
		c.log.Info().
			Float64("confidence", c.confidence).
			Str("band", string(band)).
			Str("mode", string(c.mode)).
			Msg("Draft previewed")
	case !c.state.Open():
		return Preview{}, ErrClosed
	}
	return c.viewLocked(), nil
}

// View returns the current view without changing state.
func (c *Controller) View() Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Form returns the current field values.
func (c *Controller) Form() domain.TransactionFormData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// CanConfirm reports whether confirm is enabled.
func (c *Controller) CanConfirm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canConfirmLocked()
}

// Change is one pending field edit. Build changes with the *Change
// functions and apply them with Apply or the matching setter.
type Change struct {
	field Field
	fn    func(c *Controller) error
}

// TypeChange changes the transaction type. A category that no longer fits
// is cleared. In individual mode the entity moves to the slot the new type
// binds: origin for an expense, destination for an income.
func TypeChange(t domain.TransactionType) Change {
	return Change{field: FieldType, fn: func(c *Controller) error {
		if !t.Valid() {
			return fmt.Errorf("SetType: %q: %w", t, ErrInvalidType)
		}
		c.form.Type = t
		c.dropIncompatibleCategory()
		if c.mode == ModeIndividual {
			c.bindSingleEntity(c.singleEntity())
		}
		return nil
	}}
}

// AmountChange changes the amount. Non-positive values are accepted; they
// only disable confirm.
func AmountChange(amount float64) Change {
	return Change{field: FieldAmount, fn: func(c *Controller) error {
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			return fmt.Errorf("SetAmount: %v: %w", amount, ErrInvalidAmount)
		}
		c.form.Amount = amount
		return nil
	}}
}

func DescriptionChange(description string) Change {
	return Change{field: FieldDescription, fn: func(c *Controller) error {
		c.form.Description = description
		return nil
	}}
}

func DateChange(date civil.Date) Change {
	return Change{field: FieldDate, fn: func(c *Controller) error {
		if !date.IsValid() {
			return fmt.Errorf("SetDate: %v: %w", date, ErrInvalidDate)
		}
		c.form.Date = date
		return nil
	}}
}

// EntityChange selects the single entity of an individual transaction. An
// empty id clears it.
func EntityChange(id string) Change {
	return Change{fn: func(c *Controller) error {
		if c.mode != ModeIndividual {
			return fmt.Errorf("SetEntity: %w", ErrWrongMode)
		}
		if err := c.checkEntity(id); err != nil {
			return fmt.Errorf("SetEntity: %w", err)
		}
		c.bindSingleEntity(id)
		c.edited[c.boundField()] = true
		return nil
	}}
}

// OriginChange sets the paying side. It applies to transfers, and to an
// individual transaction whose mode the user has not chosen; there the
// mode is inferred again from the filled slots.
func OriginChange(id string) Change {
	return slotChange(FieldOrigin, id)
}

// DestinationChange sets the receiving side. See OriginChange.
func DestinationChange(id string) Change {
	return slotChange(FieldDestination, id)
}

func slotChange(field Field, id string) Change {
	return Change{field: field, fn: func(c *Controller) error {
		if c.mode == ModeIndividual && c.modeLocked {
			return fmt.Errorf("set %s: %w", field, ErrWrongMode)
		}
		if err := c.checkEntity(id); err != nil {
			return fmt.Errorf("set %s: %w", field, err)
		}
		if field == FieldOrigin {
			c.form.OriginID = id
		} else {
			c.form.DestinationID = id
		}
		if !c.modeLocked {
			c.inferMode()
		}
		return nil
	}}
}

// CategoryChange selects a category compatible with the type in effect
// when it is applied. An empty id clears the selection.
func CategoryChange(id string) Change {
	return Change{field: FieldCategory, fn: func(c *Controller) error {
		if id == "" {
			c.form.CategoryID = ""
			return nil
		}
		cat, ok := domain.FindCategory(c.categories, id)
		if !ok {
			return fmt.Errorf("SetCategory: %q: %w", id, ErrUnknownCategory)
		}
		if !cat.CompatibleWith(c.form.Type) {
			return fmt.Errorf("SetCategory: %q with %s: %w", cat.Name, c.form.Type, ErrIncompatibleCategory)
		}
		c.form.CategoryID = id
		return nil
	}}
}

// ModeChange records an explicit mode choice. From then on the mode is
// never inferred again. Leaving transfer mode clears both parties.
func ModeChange(m Mode) Change {
	return Change{field: FieldMode, fn: func(c *Controller) error {
		if !m.Valid() {
			return fmt.Errorf("SetMode: %q: %w", m, ErrInvalidMode)
		}
		prev := c.mode
		c.mode = m
		c.modeLocked = true
		if prev == ModeTransfer && m == ModeIndividual {
			c.form.OriginID = ""
			c.form.DestinationID = ""
		}
		c.log.Debug().Str("from", string(prev)).Str("to", string(m)).Msg("Mode selected")
		return nil
	}}
}

// The setters apply a single change.

func (c *Controller) SetType(t domain.TransactionType) error {
	return c.Apply(TypeChange(t))
}

func (c *Controller) SetAmount(amount float64) error {
	return c.Apply(AmountChange(amount))
}

func (c *Controller) SetDescription(description string) error {
	return c.Apply(DescriptionChange(description))
}

func (c *Controller) SetDate(date civil.Date) error {
	return c.Apply(DateChange(date))
}

func (c *Controller) SetEntity(id string) error {
	return c.Apply(EntityChange(id))
}

func (c *Controller) SetOrigin(id string) error {
	return c.Apply(OriginChange(id))
}

func (c *Controller) SetDestination(id string) error {
	return c.Apply(DestinationChange(id))
}

func (c *Controller) SetCategory(id string) error {
	return c.Apply(CategoryChange(id))
}

func (c *Controller) SetMode(m Mode) error {
	return c.Apply(ModeChange(m))
}

// Apply runs changes in order under one lock. If any change fails the
// review is restored to its state before the call and the error returned.
func (c *Controller) Apply(changes ...Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Open() {
		return ErrClosed
	}

	form, mode, modeLocked := c.form, c.mode, c.modeLocked
	edited := make(map[Field]bool, len(c.edited))
	for f := range c.edited {
		edited[f] = true
	}

	for _, ch := range changes {
		if err := ch.fn(c); err != nil {
			c.form, c.mode, c.modeLocked, c.edited = form, mode, modeLocked, edited
			return err
		}
		if ch.field != "" {
			c.edited[ch.field] = true
		}
	}
	if len(changes) > 0 {
		c.state = StateEditing
	}
	return nil
}

// Confirm closes the review and returns the data to persist. It fails with
// ErrValidationBlocked, leaving the review open, when amount <= 0.
func (c *Controller) Confirm() (domain.TransactionFormData, error) {
	return c.ConfirmWith(nil)
}

// ConfirmWith is Confirm with commit run under the review lock before the
// state changes. A commit error leaves the review open and is returned as is.
func (c *Controller) ConfirmWith(commit func(domain.TransactionFormData) error) (domain.TransactionFormData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Open() {
		return domain.TransactionFormData{}, ErrClosed
	}
	if !c.canConfirmLocked() {
		c.log.Warn().Float64("amount", c.form.Amount).Msg("Confirm blocked")
		return domain.TransactionFormData{}, ErrValidationBlocked
	}

	form := c.form
	if commit != nil {
		if err := commit(form); err != nil {
			return domain.TransactionFormData{}, err
		}
	}

	c.state = StateConfirmed
	c.log.Info().
		Str("type", string(form.Type)).
		Str("mode", string(c.mode)).
		Int("edited_fields", len(c.edited)).
		Msg("Review confirmed")
	return form, nil
}

// Discard destroys the review state.
func (c *Controller) Discard() error {
	return c.close(StateDiscarded)
}

// Rerecord destroys the review state so a new capture can start.
func (c *Controller) Rerecord() error {
	return c.close(StateRerecording)
}

func (c *Controller) close(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateExtracted && !c.state.Open() {
		return ErrClosed
	}
	c.state = to
	c.form = domain.TransactionFormData{}
	c.edited = make(map[Field]bool)
	c.log.Debug().Str("state", string(to)).Msg("Review closed")
	return nil
}

// inferMode derives the mode from the filled slots and, for an individual
// transaction, moves the entity to the slot bound by the type.
func (c *Controller) inferMode() {
	if c.form.IsTransfer() {
		c.mode = ModeTransfer
		return
	}
	c.mode = ModeIndividual
	c.bindSingleEntity(c.singleEntity())
}

func (c *Controller) singleEntity() string {
	if c.form.OriginID != "" {
		return c.form.OriginID
	}
	return c.form.DestinationID
}

func (c *Controller) bindSingleEntity(id string) {
	c.form.OriginID = ""
	c.form.DestinationID = ""
	if c.form.Type == domain.TypeIncome {
		c.form.DestinationID = id
	} else {
		c.form.OriginID = id
	}
}

func (c *Controller) boundField() Field {
	if c.form.Type == domain.TypeIncome {
		return FieldDestination
	}
	return FieldOrigin
}

func (c *Controller) checkEntity(id string) error {
	if id == "" {
		return nil
	}
	if _, ok := domain.FindEntity(c.entities, id); !ok {
		return fmt.Errorf("%q: %w", id, ErrUnknownEntity)
	}
	return nil
}

func (c *Controller) dropUnknownEntities() {
	if c.checkEntity(c.form.OriginID) != nil {
		c.form.OriginID = ""
	}
	if c.checkEntity(c.form.DestinationID) != nil {
		c.form.DestinationID = ""
	}
}

func (c *Controller) dropIncompatibleCategory() {
	if c.form.CategoryID == "" {
		return
	}
	cat, ok := domain.FindCategory(c.categories, c.form.CategoryID)
	if !ok || !cat.CompatibleWith(c.form.Type) {
		c.form.CategoryID = ""
	}
}

func (c *Controller) canConfirmLocked() bool {
	return c.state.Open() && c.form.Amount > 0
}

func (c *Controller) viewLocked() Preview {
	band := BandFor(c.confidence)
	edited := make([]Field, 0, len(c.edited))
	for f := range c.edited {
		edited = append(edited, f)
	}
	sort.Slice(edited, func(i, j int) bool { return edited[i] < edited[j] })

	return Preview{
		State:        c.state,
		Band:         band,
		Warning:      band.Warning(),
		Mode:         c.mode,
		ModeLocked:   c.modeLocked,
		Form:         c.form,
		Categories:   domain.FilterCategories(c.categories, c.form.Type),
		Entities:     c.entities,
		CanConfirm:   c.canConfirmLocked(),
		Confidence:   c.confidence,
		OriginalText: c.original,
		EditedFields: edited,
	}
}
