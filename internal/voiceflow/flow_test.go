package voiceflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/extraction"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/ledger/memory"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/rs/zerolog"
)

var fixedNow = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

type mockModel struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	mu           sync.Mutex
	calls        int
}

func (m *mockModel) Name() string { return "mock" }

func (m *mockModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.GenerateFunc(ctx, prompt)
}

func respond(body string) *mockModel {
	return &mockModel{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return body, nil
	}}
}

type mockNotifier struct {
	mu     sync.Mutex
	events []notify.TransactionEvent
}

func (m *mockNotifier) TransactionCommitted(ctx context.Context, ev notify.TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return errors.New("broker down")
}

type failingLedger struct {
	*memory.Repository
	fail bool
}

func (l *failingLedger) CreateTransaction(ctx context.Context, form domain.TransactionFormData) (*domain.Transaction, error) {
	if l.fail {
		return nil, errors.New("ledger unavailable")
	}
	return l.Repository.CreateTransaction(ctx, form)
}

type harness struct {
	flow     *Flow
	repo     ledger.Repository
	rec      *capture.StreamRecognizer
	model    *mockModel
	notifier *mockNotifier
	commands []capture.Command
	mu       sync.Mutex
}

func newHarness(t *testing.T, model *mockModel, repo ledger.Repository) *harness {
	t.Helper()
	if repo == nil {
		repo = memory.NewSeeded()
	}
	h := &harness{repo: repo, model: model, notifier: &mockNotifier{}}
	h.rec = capture.NewStreamRecognizer(true, func(cmd capture.Command, opts capture.Options) error {
		h.mu.Lock()
		h.commands = append(h.commands, cmd)
		h.mu.Unlock()
		return nil
	})
	session := capture.NewSession(h.rec, capture.Config{}, zerolog.Nop())
	h.flow = NewFlow(session, Deps{
		Reference: repo,
		Extractor: extraction.NewClient(model, nil, zerolog.Nop()),
		Committer: NewCommitter(repo, h.notifier, zerolog.Nop()),
		Now:       func() time.Time { return fixedNow },
		Location:  time.UTC,
	}, zerolog.Nop())
	return h
}

const rentJSON = `{"type":"expense","amount":1500,"description":"Aluguel","origin_name":"loja centro","destination_name":null,"suggested_category":"aluguel","confidence":0.9}`

func TestFlow_ProcessOpensReview(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)

	preview, err := h.flow.Process(context.Background(), "paguei 1500 de aluguel da loja centro")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if preview.State != review.StatePreviewed || preview.Band != review.BandHigh {
		t.Errorf("preview state/band = %q/%q", preview.State, preview.Band)
	}
	form := preview.Form
	if form.OriginID != "ent-loja-centro" || form.CategoryID != "cat-aluguel" || form.Amount != 1500 {
		t.Errorf("form = %+v", form)
	}
	if form.Date != (civil.Date{Year: 2024, Month: 3, Day: 15}) {
		t.Errorf("date = %v, want today", form.Date)
	}
	if preview.OriginalText != "paguei 1500 de aluguel da loja centro" {
		t.Errorf("original text = %q", preview.OriginalText)
	}

	st := h.flow.Status()
	if st.Review == nil || st.Processing || st.Message != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestFlow_ProcessFailuresLeaveNoReview(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		body      string
		want      Kind
	}{
		{"blank", "   ", rentJSON, KindEmptyInput},
		{"no amount", "paguei aluguel", `{"type":"expense","amount":0}`, KindExtractionNoAmount},
		{"unparsable", "paguei 10", `not json`, KindExtractionUnparsable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, respond(tt.body), nil)
			_, err := h.flow.Process(context.Background(), tt.utterance)
			if Classify(err) != tt.want {
				t.Fatalf("Process() error = %v, kind %q, want %q", err, Classify(err), tt.want)
			}
			if _, err := h.flow.Review(); !errors.Is(err, ErrNoReview) {
				t.Errorf("Review() error = %v, want ErrNoReview", err)
			}
			st := h.flow.Status()
			if st.ErrorKind != tt.want || st.Message == "" {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestFlow_ProcessKeepsOpenReview(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)
	ctx := context.Background()

	if _, err := h.flow.Process(ctx, "paguei 1500 de aluguel da loja centro"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	first, _ := h.flow.Review()
	if err := first.SetAmount(42); err != nil {
		t.Fatalf("SetAmount() error = %v", err)
	}

	if _, err := h.flow.Process(ctx, "paguei 1500 de aluguel"); !errors.Is(err, ErrReviewOpen) {
		t.Fatalf("second Process() error = %v, want ErrReviewOpen", err)
	}
	current, err := h.flow.Review()
	if err != nil || current != first {
		t.Fatalf("open review replaced: %v", err)
	}
	if current.Form().Amount != 42 {
		t.Errorf("amount = %v, want edits kept", current.Form().Amount)
	}
	if h.model.calls != 1 {
		t.Errorf("model calls = %d, want 1", h.model.calls)
	}

	if err := h.flow.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := h.flow.Process(ctx, "paguei 1500 de aluguel"); err != nil {
		t.Errorf("Process() after discard error = %v", err)
	}
}

func TestFlow_BlankMakesNoModelCall(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)
	h.flow.Process(context.Background(), "")
	if h.model.calls != 0 {
		t.Errorf("model calls = %d, want 0", h.model.calls)
	}
}

func blockingModel() (*mockModel, chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := &mockModel{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		close(started)
		<-release
		return rentJSON, nil
	}}
	return m, started, release
}

func TestFlow_SingleExtractionInFlight(t *testing.T) {
	model, started, release := blockingModel()
	h := newHarness(t, model, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := h.flow.Process(context.Background(), "paguei 1500 de aluguel")
		errc <- err
	}()
	<-started

	if !h.flow.Processing() {
		t.Error("Processing() = false during extraction")
	}
	if _, err := h.flow.Process(context.Background(), "outra"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Process() error = %v, want ErrBusy", err)
	}
	if err := h.flow.StartCapture(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("StartCapture() while processing error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}
}

func TestFlow_AbandonDropsLateResult(t *testing.T) {
	model, started, release := blockingModel()
	h := newHarness(t, model, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := h.flow.Process(context.Background(), "paguei 1500 de aluguel")
		errc <- err
	}()
	<-started

	h.flow.Abandon()
	if _, err := h.flow.Process(context.Background(), "outra"); !errors.Is(err, ErrBusy) {
		t.Errorf("Process() after abandon while call runs error = %v, want ErrBusy", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrAbandoned) {
		t.Fatalf("abandoned Process() error = %v, want ErrAbandoned", err)
	}
	if _, err := h.flow.Review(); !errors.Is(err, ErrNoReview) {
		t.Errorf("late result opened a review: %v", err)
	}
	if h.flow.Processing() {
		t.Error("still processing after the call returned")
	}
}

func TestFlow_ConfirmCommitsAndNotifies(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)
	ctx := context.Background()
	if _, err := h.flow.Process(ctx, "paguei 1500 de aluguel da loja centro"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	tx, err := h.flow.Confirm(ctx)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if tx.ID == "" || tx.Amount != 1500 || tx.OriginID != "ent-loja-centro" {
		t.Errorf("tx = %+v", tx)
	}

	txs, _ := h.repo.(*memory.Repository).ListTransactions(ctx)
	if len(txs) != 1 {
		t.Errorf("ledger holds %d transactions, want 1", len(txs))
	}
	if len(h.notifier.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.events))
	}
	ev := h.notifier.events[0]
	if ev.Source != notify.SourceVoice || ev.OriginName != "Loja Centro" || ev.CategoryName != "Aluguel" {
		t.Errorf("event = %+v", ev)
	}
	if _, err := h.flow.Review(); !errors.Is(err, ErrNoReview) {
		t.Errorf("review still open after confirm: %v", err)
	}
}

func TestFlow_ConfirmBlockedAndLedgerFailure(t *testing.T) {
	repo := &failingLedger{Repository: memory.NewSeeded(), fail: true}
	h := newHarness(t, respond(rentJSON), repo)
	ctx := context.Background()
	h.flow.Process(ctx, "paguei 1500 de aluguel da loja centro")

	if _, err := h.flow.Confirm(ctx); err == nil {
		t.Fatal("Confirm() succeeded with a failing ledger")
	}
	c, err := h.flow.Review()
	if err != nil || !c.State().Open() {
		t.Fatalf("review not kept open after ledger failure: %v", err)
	}

	c.SetAmount(0)
	if _, err := h.flow.Confirm(ctx); Classify(err) != KindValidationBlocked {
		t.Errorf("Confirm() with zero amount error = %v", err)
	}

	repo.fail = false
	c.SetAmount(10)
	if _, err := h.flow.Confirm(ctx); err != nil {
		t.Errorf("Confirm() after recovery error = %v", err)
	}
	if len(h.notifier.events) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.notifier.events))
	}
}

func TestFlow_DiscardAndRerecord(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)
	ctx := context.Background()

	h.flow.Process(ctx, "paguei 1500 de aluguel")
	if err := h.flow.StartCapture(ctx); !errors.Is(err, ErrReviewOpen) {
		t.Errorf("StartCapture() over open review error = %v, want ErrReviewOpen", err)
	}
	if err := h.flow.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if err := h.flow.Discard(); !errors.Is(err, ErrNoReview) {
		t.Errorf("second Discard() error = %v, want ErrNoReview", err)
	}

	h.flow.Process(ctx, "paguei 1500 de aluguel")
	if err := h.flow.Rerecord(ctx); err != nil {
		t.Fatalf("Rerecord() error = %v", err)
	}
	if _, err := h.flow.Review(); !errors.Is(err, ErrNoReview) {
		t.Errorf("review survived rerecord: %v", err)
	}
	if h.flow.Capture().State() != capture.StateRecording {
		t.Errorf("capture state = %q, want recording", h.flow.Capture().State())
	}
	h.flow.CancelCapture()
}

func TestFlow_CaptureToPreview(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)
	ctx := context.Background()

	if err := h.flow.StartCapture(ctx); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	h.rec.Push(capture.Partial("paguei"))
	h.rec.Push(capture.Final("paguei 1500 de aluguel da loja centro"))
	h.rec.Push(capture.End())

	preview, err := h.flow.StopCapture(ctx)
	if err != nil {
		t.Fatalf("StopCapture() error = %v", err)
	}
	if preview.OriginalText != "paguei 1500 de aluguel da loja centro" {
		t.Errorf("original text = %q", preview.OriginalText)
	}
}

func TestFlow_CaptureErrorSurfaces(t *testing.T) {
	h := newHarness(t, respond(rentJSON), nil)
	ctx := context.Background()

	h.flow.StartCapture(ctx)
	h.rec.Push(capture.Failure(capture.CodePermissionDenied, "not-allowed"))
	h.rec.Push(capture.End())

	if _, err := h.flow.StopCapture(ctx); Classify(err) != KindCapturePermissionDenied {
		t.Fatalf("StopCapture() error = %v, want permission denied", err)
	}
	if h.model.calls != 0 {
		t.Errorf("model called after capture failure")
	}
	if st := h.flow.Status(); st.ErrorKind != KindCapturePermissionDenied {
		t.Errorf("status kind = %q", st.ErrorKind)
	}
}
