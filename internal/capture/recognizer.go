package capture

import (
	"context"
	"errors"
	"sync"
)

// Options configures a recognition run.
type Options struct {
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

// Recognizer is a speech-to-text facility. The channel returned by Start
// delivers events in order and is closed after the run ends, either with an
// EventEnd or because Abort was called.
type Recognizer interface {
	Supported() bool
	Start(ctx context.Context, opts Options) (<-chan Event, error)
	// Stop asks the recognizer to finish and flush pending results.
	Stop() error
	// Abort ends the run immediately, discarding pending results.
	Abort() error
}

// Command is an instruction forwarded to a remote recognizer.
type Command string

const (
	CommandStart Command = "start"
	CommandStop  Command = "stop"
	CommandAbort Command = "abort"
)

// SendFunc forwards a command to the device running the recognizer.
type SendFunc func(cmd Command, opts Options) error

var errRecognizerBusy = errors.New("recognizer already running")

// StreamRecognizer is a Recognizer whose events are pushed by a remote
// client, such as a browser running the Web Speech API over a websocket.
type StreamRecognizer struct {
	send SendFunc

	mu        sync.Mutex
	supported bool
	events    chan Event
}

// NewStreamRecognizer creates a recognizer that forwards commands through
// send. A nil send is allowed; commands are then dropped.
func NewStreamRecognizer(supported bool, send SendFunc) *StreamRecognizer {
	return &StreamRecognizer{send: send, supported: supported}
}

// SetSupported records whether the remote client can recognize speech.
func (r *StreamRecognizer) SetSupported(supported bool) {
	r.mu.Lock()
	r.supported = supported
	r.mu.Unlock()
}

func (r *StreamRecognizer) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supported
}

func (r *StreamRecognizer) Start(ctx context.Context, opts Options) (<-chan Event, error) {
	r.mu.Lock()
	if r.events != nil {
		r.mu.Unlock()
		return nil, errRecognizerBusy
	}
	ch := make(chan Event, 64)
	r.events = ch
	r.mu.Unlock()

	if err := r.forward(CommandStart, opts); err != nil {
		r.closeEvents()
		return nil, err
	}
	return ch, nil
}

func (r *StreamRecognizer) Stop() error {
	return r.forward(CommandStop, Options{})
}

func (r *StreamRecognizer) Abort() error {
	err := r.forward(CommandAbort, Options{})
	r.closeEvents()
	return err
}

// Push delivers an event from the remote client. It reports false when no
// run is active. An EventEnd closes the run.
func (r *StreamRecognizer) Push(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		return false
	}
	r.events <- ev
	if ev.Kind == EventEnd {
		close(r.events)
		r.events = nil
	}
	return true
}

// Running reports whether a run is active.
func (r *StreamRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events != nil
}

func (r *StreamRecognizer) forward(cmd Command, opts Options) error {
	if r.send == nil {
		return nil
	}
	return r.send(cmd, opts)
}

func (r *StreamRecognizer) closeEvents() {
	r.mu.Lock()
	if r.events != nil {
		close(r.events)
		r.events = nil
	}
	r.mu.Unlock()
}
