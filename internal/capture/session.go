package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultLanguage  = "pt-BR"
	DefaultStopGrace = 100 * time.Millisecond
	MaxStopGrace     = 150 * time.Millisecond
)

// Config configures a Session.
type Config struct {
	Language string
	// StopGrace bounds how long Stop waits for the recognizer to flush a
	// final result. Values above MaxStopGrace are clamped.
	StopGrace time.Duration
	// OnChange, when set, receives a snapshot after every state or
	// transcript change. It is called without the session lock held.
	OnChange func(Snapshot)
}

// Session converts one utterance of speech into text.
//
// A session runs at most one recognition at a time. Events from a run that
// was stopped or cancelled are ignored.
type Session struct {
	rec Recognizer
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	state   State
	text    Transcript
	message string
	err     error
	gen     uint64
	done    chan struct{}
}

// NewSession creates an idle session backed by rec.
func NewSession(rec Recognizer, cfg Config, log zerolog.Logger) *Session {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.StopGrace > MaxStopGrace {
		cfg.StopGrace = MaxStopGrace
	}
	return &Session{
		rec:   rec,
		cfg:   cfg,
		log:   log,
		state: StateIdle,
	}
}

// Supported reports whether the underlying recognizer can capture speech.
func (s *Session) Supported() bool {
	return s.rec != nil && s.rec.Supported()
}

// Start begins recording. Starting while a recording is in progress is a
// no-op. Start resets the transcript and any previous error.
func (s *Session) Start(ctx context.Context) error {
	if !s.Supported() {
		s.mu.Lock()
		s.message = messageUnsupported
		s.err = ErrUnsupported
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
		return ErrUnsupported
	}

	s.mu.Lock()
	if s.state == StateRecording || s.state == StateStopping {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.text = Transcript{}
	s.message = ""
	s.err = nil
	s.state = StateRecording
	done := make(chan struct{})
	s.done = done
	snap := s.snapshotLocked()
	s.mu.Unlock()

	events, err := s.rec.Start(ctx, Options{
		Language:       s.cfg.Language,
		Continuous:     false,
		InterimResults: true,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateIdle
			s.message = messageStartFailed
			s.err = wrapped
		}
		close(done)
		snap = s.snapshotLocked()
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("Failed to start recognizer")
		s.notify(snap)
		return wrapped
	}

	s.log.Debug().Str("language", s.cfg.Language).Msg("Recording started")
	s.notify(snap)
	go s.run(gen, events, done)
	return nil
}

// Stop ends recording and returns the trimmed final transcript. It waits up
// to the configured grace period for the recognizer to deliver results that
// were already buffered. The returned error is the recognizer failure, if
// any, that ended the run.
func (s *Session) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		final, err := strings.TrimSpace(s.text.Final), s.err
		s.mu.Unlock()
		return final, err
	}
	s.state = StateStopping
	gen := s.gen
	done := s.done
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if err := s.rec.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Recognizer stop failed")
	}

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	flushed := true
	select {
	case <-done:
	case <-timer.C:
		flushed = false
	case <-ctx.Done():
		flushed = false
	}

	s.mu.Lock()
	if s.gen == gen && s.state == StateStopping {
		s.state = StateIdle
		s.text.Interim = ""
	}
	if !flushed {
		// Late events from this run must not leak into the next one.
		s.gen++
	}
	final, err := strings.TrimSpace(s.text.Final), s.err
	snap = s.snapshotLocked()
	s.mu.Unlock()

	if !flushed {
		if abortErr := s.rec.Abort(); abortErr != nil {
			s.log.Warn().Err(abortErr).Msg("Recognizer abort failed")
		}
	}
	s.notify(snap)
	return final, err
}

// Cancel aborts any recording and discards the transcript. Nothing captured
// before the cancel is reported afterwards.
func (s *Session) Cancel() {
	s.mu.Lock()
	active := s.state == StateRecording || s.state == StateStopping
	s.gen++
	s.state = StateIdle
	s.text = Transcript{}
	s.message = ""
	s.err = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if active {
		if err := s.rec.Abort(); err != nil {
			s.log.Warn().Err(err).Msg("Recognizer abort failed")
		}
	}
	s.log.Debug().Bool("was_recording", active).Msg("Capture cancelled")
	s.notify(snap)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the current transcript.
func (s *Session) Transcript() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Err returns the failure that ended the last run, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns the current state, transcript and message.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) run(gen uint64, events <-chan Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		s.handle(gen, ev)
	}
	// A closed channel without an end event still ends the run.
	s.handle(gen, End())
}

func (s *Session) handle(gen uint64, ev Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	before := s.snapshotLocked()

	switch ev.Kind {
	case EventPartial, EventFinal:
		if s.state == StateRecording || s.state == StateStopping {
			s.applyResultsLocked(ev.Segments)
		}
	case EventError:
		s.failLocked(ev)
	case EventEnd:
		s.text.Interim = ""
		if s.state != StateIdle {
			s.state = StateIdle
		}
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()
	if snap != before {
		s.notify(snap)
	}
}

// applyResultsLocked replaces the final transcript with the concatenation
// of final segments, when there are any, and the interim text with the
// concatenation of the rest.
func (s *Session) applyResultsLocked(segs []Segment) {
	var final, interim strings.Builder
	for _, seg := range segs {
		if seg.Final {
			final.WriteString(seg.Text)
		} else {
			interim.WriteString(seg.Text)
		}
	}
	if final.Len() > 0 {
		s.text.Final = final.String()
	}
	s.text.Interim = interim.String()
}

func (s *Session) failLocked(ev Event) {
	err, msg := errorFor(ev.Code, ev.Detail)
	if err == nil {
		s.log.Debug().Msg("Recognition aborted")
		return
	}
	s.err = err
	s.message = msg
	s.state = StateError
	s.log.Warn().Str("code", string(ev.Code)).Str("detail", ev.Detail).Msg("Recognition failed")
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Transcript: s.text, Message: s.message}
}

func (s *Session) notify(snap Snapshot) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(snap)
	}
}
