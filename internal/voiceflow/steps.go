package voiceflow

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/resolver"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Extractor turns an utterance into a validated draft.
type Extractor interface {
	Extract(ctx context.Context, utterance string, entities []domain.Entity, categories []domain.Category, today civil.Date) (*domain.TransactionDraft, error)
}

// Step is one stage of processing an utterance.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State is carried through the processing steps.
type State struct {
	Utterance string
	Today     civil.Date

	Entities   []domain.Entity
	Categories []domain.Category

	Draft    *domain.TransactionDraft
	Resolved *domain.ResolvedDraft
	Review   *review.Controller
	Preview  review.Preview
}

// LoadReferenceStep reads entities and categories concurrently.
type LoadReferenceStep struct {
	Reader ledger.ReferenceReader
}

func (s *LoadReferenceStep) Execute(ctx context.Context, state *State) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entities, err := s.Reader.ListEntities(gctx)
		if err != nil {
			return fmt.Errorf("LoadReferenceStep: entities: %w", err)
		}
		state.Entities = entities
		return nil
	})
	g.Go(func() error {
		categories, err := s.Reader.ListCategories(gctx)
		if err != nil {
			return fmt.Errorf("LoadReferenceStep: categories: %w", err)
		}
		state.Categories = categories
		return nil
	})
	return g.Wait()
}

// ExtractStep sends the utterance and active reference data to the model.
type ExtractStep struct {
	Extractor Extractor
}

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	draft, err := s.Extractor.Extract(ctx, state.Utterance, domain.ActiveEntities(state.Entities), state.Categories, state.Today)
	if err != nil {
		return err
	}
	state.Draft = draft
	return nil
}

// ResolveStep maps extracted names to entity and category ids.
type ResolveStep struct {
	Resolver *resolver.Resolver
}

func (s *ResolveStep) Execute(ctx context.Context, state *State) error {
	state.Resolved = s.Resolver.ResolveDraft(state.Draft, state.Entities, state.Categories)
	return nil
}

// PreviewStep opens the review for the resolved draft.
type PreviewStep struct {
	Log zerolog.Logger
}

func (s *PreviewStep) Execute(ctx context.Context, state *State) error {
	c := review.New(state.Resolved, state.Entities, state.Categories, s.Log)
	preview, err := c.Present()
	if err != nil {
		return fmt.Errorf("PreviewStep: %w", err)
	}
	state.Review = c
	state.Preview = preview
	return nil
}

// RunSteps executes steps in order and stops at the first error.
func RunSteps(ctx context.Context, state *State, steps ...Step) error {
	for _, step := range steps {
		if err := step.Execute(ctx, state); err != nil {
			return err
		}
	}
	return nil
}
