// Package voiceflow runs one voice capture review flow: speech to text,
// extraction, name resolution, review and commit.
package voiceflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/dvloznov/voice-ledger/internal/resolver"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/rs/zerolog"
)

// Deps are the collaborators shared by flows.
type Deps struct {
	Reference ledger.ReferenceReader
	Extractor Extractor
	Resolver  *resolver.Resolver
	Committer *Committer

	// Now and Location decide "today" for relative dates. They default to
	// time.Now and time.Local.
	Now      func() time.Time
	Location *time.Location
}

// Status is the presentable state of a flow.
type Status struct {
	Capture    capture.Snapshot `json:"capture"`
	Processing bool             `json:"processing"`
	Review     *review.Preview  `json:"review,omitempty"`
	ErrorKind  Kind             `json:"error_kind,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Flow owns one capture session and at most one open review. It is safe
// for concurrent use; at most one extraction runs at a time.
type Flow struct {
	capture *capture.Session
	deps    Deps
	log     zerolog.Logger

	mu         sync.Mutex
	processing bool
	gen        uint64
	review     *review.Controller
	lastErr    error
}

func NewFlow(session *capture.Session, deps Deps, log zerolog.Logger) *Flow {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.New(log)
	}
	return &Flow{capture: session, deps: deps, log: log}
}

// Capture returns the flow's capture session.
func (f *Flow) Capture() *capture.Session {
	return f.capture
}

// StartCapture begins recording. It is rejected while processing or while
// a review is open.
func (f *Flow) StartCapture(ctx context.Context) error {
	f.mu.Lock()
	switch {
	case f.processing:
		f.mu.Unlock()
		return ErrBusy
	case f.review != nil && f.review.State().Open():
		f.mu.Unlock()
		return ErrReviewOpen
	}
	f.lastErr = nil
	f.mu.Unlock()

	return f.setErr(f.capture.Start(ctx))
}

// StopCapture stops recording and processes the transcript.
func (f *Flow) StopCapture(ctx context.Context) (review.Preview, error) {
	text, err := f.capture.Stop(ctx)
	if err != nil {
		return review.Preview{}, f.setErr(err)
	}
	return f.Process(ctx, text)
}

// CancelCapture discards the current recording.
func (f *Flow) CancelCapture() {
	f.capture.Cancel()
}

// Process runs utterance through extraction, resolution and preview and
// opens the review. A second call while one is running fails with ErrBusy,
// and a call over an open review fails with ErrReviewOpen.
func (f *Flow) Process(ctx context.Context, utterance string) (review.Preview, error) {
	f.mu.Lock()
	switch {
	case f.processing:
		f.mu.Unlock()
		return review.Preview{}, ErrBusy
	case f.review != nil && f.review.State().Open():
		f.mu.Unlock()
		return review.Preview{}, ErrReviewOpen
	}
	f.processing = true
	f.gen++
	gen := f.gen
	f.lastErr = nil
	f.mu.Unlock()

	state := &State{
		Utterance: utterance,
		Today:     civil.DateOf(f.deps.Now().In(f.deps.Location)),
	}
	err := RunSteps(ctx, state,
		&LoadReferenceStep{Reader: f.deps.Reference},
		&ExtractStep{Extractor: f.deps.Extractor},
		&ResolveStep{Resolver: f.deps.Resolver},
		&PreviewStep{Log: f.log},
	)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = false

	if gen != f.gen {
		f.log.Debug().Msg("Dropping abandoned extraction result")
		return review.Preview{}, ErrAbandoned
	}
	if err != nil {
		f.lastErr = err
		f.log.Warn().Err(err).Str("kind", string(Classify(err))).Msg("Processing failed")
		return review.Preview{}, err
	}

	f.review = state.Review
	f.log.Info().
		Float64("confidence", state.Preview.Confidence).
		Str("band", string(state.Preview.Band)).
		Str("mode", string(state.Preview.Mode)).
		Msg("Draft ready for review")
	return state.Preview, nil
}

// Abandon stops waiting for an in-flight extraction and cancels capture.
// The extraction call itself runs to completion and its result is dropped.
func (f *Flow) Abandon() {
	f.mu.Lock()
	if f.processing {
		f.gen++
	}
	f.mu.Unlock()
	f.capture.Cancel()
}

// Processing reports whether an extraction is in flight.
func (f *Flow) Processing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processing
}

// Review returns the open review controller.
func (f *Flow) Review() (*review.Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.review == nil {
		return nil, ErrNoReview
	}
	return f.review, nil
}

// Confirm commits the reviewed transaction. The review stays open if the
// ledger rejects it.
func (f *Flow) Confirm(ctx context.Context) (*domain.Transaction, error) {
	c, err := f.Review()
	if err != nil {
		return nil, err
	}
	original := c.View().OriginalText

	var tx *domain.Transaction
	_, err = c.ConfirmWith(func(form domain.TransactionFormData) error {
		created, err := f.deps.Committer.Create(ctx, form)
		if err != nil {
			return err
		}
		tx = created
		return nil
	})
	if err != nil {
		return nil, f.setErr(err)
	}

	f.clearReview(c)
	f.deps.Committer.Announce(ctx, *tx, notify.SourceVoice, original)
	return tx, nil
}

// Discard drops the open review.
func (f *Flow) Discard() error {
	c, err := f.Review()
	if err != nil {
		return err
	}
	err = c.Discard()
	f.clearReview(c)
	return err
}

// Rerecord drops any open review and starts a new capture.
func (f *Flow) Rerecord(ctx context.Context) error {
	f.mu.Lock()
	c := f.review
	f.mu.Unlock()

	if c != nil {
		if err := c.Rerecord(); err != nil && !errors.Is(err, review.ErrClosed) {
			return err
		}
		f.clearReview(c)
	}
	return f.StartCapture(ctx)
}

// Status returns the current capture, processing and review state.
func (f *Flow) Status() Status {
	st := Status{Capture: f.capture.Snapshot()}

	f.mu.Lock()
	st.Processing = f.processing
	c := f.review
	err := f.lastErr
	f.mu.Unlock()

	if c != nil {
		view := c.View()
		st.Review = &view
	}
	if err == nil {
		err = f.capture.Err()
	}
	if err != nil {
		st.ErrorKind = Classify(err)
		st.Message = UserMessage(err)
	}
	return st
}

func (f *Flow) clearReview(c *review.Controller) {
	f.mu.Lock()
	if f.review == c {
		f.review = nil
	}
	f.mu.Unlock()
}

func (f *Flow) setErr(err error) error {
	if err == nil {
		return nil
	}
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
	return err
}
