// Package notify tells outside systems about committed transactions.
// Delivery is best effort: a failed notification never undoes a commit.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// Source records how a transaction was entered.
type Source string

const (
	SourceVoice  Source = "voice"
	SourceManual Source = "manual"
)

// TransactionEvent describes a committed transaction with display names
// resolved for consumers that do not read the ledger.
type TransactionEvent struct {
	Transaction     domain.Transaction `json:"transaction"`
	Source          Source             `json:"source"`
	OriginName      string             `json:"origin_name,omitempty"`
	DestinationName string             `json:"destination_name,omitempty"`
	CategoryName    string             `json:"category_name,omitempty"`
	OriginalText    string             `json:"original_text,omitempty"`
}

// NewTransactionEvent fills the display names from reference data.
func NewTransactionEvent(tx domain.Transaction, source Source, originalText string, entities []domain.Entity, categories []domain.Category) TransactionEvent {
	ev := TransactionEvent{Transaction: tx, Source: source, OriginalText: originalText}
	if e, ok := domain.FindEntity(entities, tx.OriginID); ok {
		ev.OriginName = e.Name
	}
	if e, ok := domain.FindEntity(entities, tx.DestinationID); ok {
		ev.DestinationName = e.Name
	}
	if c, ok := domain.FindCategory(categories, tx.CategoryID); ok {
		ev.CategoryName = c.Name
	}
	return ev
}

// Notifier receives committed transactions.
type Notifier interface {
	TransactionCommitted(ctx context.Context, ev TransactionEvent) error
}

// Fanout delivers to every notifier and logs each failure.
type Fanout struct {
	notifiers []Notifier
	log       zerolog.Logger
}

// NewFanout skips nil notifiers.
func NewFanout(log zerolog.Logger, notifiers ...Notifier) *Fanout {
	f := &Fanout{log: log}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Len reports how many notifiers are attached.
func (f *Fanout) Len() int { return len(f.notifiers) }

// TransactionCommitted calls every notifier and joins their errors.
func (f *Fanout) TransactionCommitted(ctx context.Context, ev TransactionEvent) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.TransactionCommitted(ctx, ev); err != nil {
			f.log.Warn().Err(err).
				Str("transaction_id", ev.Transaction.ID).
				Str("notifier", fmt.Sprintf("%T", n)).
				Msg("notification failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Fanout)(nil)
