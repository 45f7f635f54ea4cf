package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// Output is one raw model response, kept for audit.
type Output struct {
	Utterance string    `json:"utterance"`
	Model     string    `json:"model"`
	Raw       string    `json:"raw"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OutputRecorder receives every raw model response. Recording is best
// effort and must not block extraction.
type OutputRecorder interface {
	RecordOutput(ctx context.Context, out Output)
}

// Client turns an utterance into a validated TransactionDraft.
type Client struct {
	model    Model
	recorder OutputRecorder
	log      zerolog.Logger
}

// NewClient creates a client. A nil model makes every call fail with
// ErrServiceUnavailable; recorder may be nil.
func NewClient(model Model, recorder OutputRecorder, log zerolog.Logger) *Client {
	return &Client{model: model, recorder: recorder, log: log}
}

// Extract sends utterance with the reference data to the model and returns
// the validated draft. Entity and category names are not resolved here.
func (c *Client) Extract(
	ctx context.Context,
	utterance string,
	entities []domain.Entity,
	categories []domain.Category,
	today civil.Date,
) (*domain.TransactionDraft, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, fmt.Errorf("Extract: %w", ErrEmptyInput)
	}
	if c.model == nil {
		return nil, fmt.Errorf("Extract: model not configured: %w", ErrServiceUnavailable)
	}

	prompt := buildPrompt(utterance, entities, categories, today)

	start := time.Now()
	raw, err := c.model.Generate(ctx, prompt)
	if err != nil {
		c.log.Warn().Err(err).Str("model", c.model.Name()).Msg("Extraction call failed")
		if errors.Is(err, ErrServiceUnavailable) {
			return nil, fmt.Errorf("Extract: %w", err)
		}
		return nil, fmt.Errorf("Extract: %v: %w", err, ErrServiceUnavailable)
	}

	draft, err := decodeDraft(raw, today)
	c.record(ctx, utterance, raw, err)
	if err != nil {
		c.log.Warn().Err(err).Str("model", c.model.Name()).Msg("Extraction rejected")
		return nil, fmt.Errorf("Extract: %w", err)
	}
	draft.OriginalText = utterance

	c.log.Info().
		Str("type", string(draft.Type)).
		Float64("amount", draft.Amount).
		Float64("confidence", draft.Confidence).
		Dur("duration", time.Since(start)).
		Msg("Extraction completed")

	return draft, nil
}

func (c *Client) record(ctx context.Context, utterance, raw string, err error) {
	if c.recorder == nil {
		return
	}
	out := Output{
		Utterance: utterance,
		Model:     c.model.Name(),
		Raw:       raw,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		out.Error = err.Error()
	}
	c.recorder.RecordOutput(ctx, out)
}
