package voiceflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/rs/zerolog"
)

const announceTimeout = 10 * time.Second

// Committer writes confirmed transactions to the ledger and announces them.
// It serves both voice review and manual entry.
type Committer struct {
	repo     ledger.Repository
	notifier notify.Notifier
	log      zerolog.Logger
}

// NewCommitter creates a committer. notifier may be nil.
func NewCommitter(repo ledger.Repository, notifier notify.Notifier, log zerolog.Logger) *Committer {
	return &Committer{repo: repo, notifier: notifier, log: log}
}

// Create persists form.
func (c *Committer) Create(ctx context.Context, form domain.TransactionFormData) (*domain.Transaction, error) {
	tx, err := c.repo.CreateTransaction(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	c.log.Info().
		Str("transaction_id", tx.ID).
		Str("type", string(tx.Type)).
		Float64("amount", tx.Amount).
		Msg("Transaction committed")
	return tx, nil
}

// Announce notifies about tx. Failures are logged and otherwise ignored;
// the transaction stays committed.
func (c *Committer) Announce(ctx context.Context, tx domain.Transaction, source notify.Source, originalText string) {
	if c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), announceTimeout)
	defer cancel()

	entities, err := c.repo.ListEntities(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Announce: entities unavailable, sending ids only")
	}
	categories, err := c.repo.ListCategories(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Announce: categories unavailable, sending ids only")
	}

	ev := notify.NewTransactionEvent(tx, source, originalText, entities, categories)
	if err := c.notifier.TransactionCommitted(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Transaction notification incomplete")
	}
}

// Commit creates form and announces it.
func (c *Committer) Commit(ctx context.Context, form domain.TransactionFormData, source notify.Source, originalText string) (*domain.Transaction, error) {
	tx, err := c.Create(ctx, form)
	if err != nil {
		return nil, err
	}
	c.Announce(ctx, *tx, source, originalText)
	return tx, nil
}
