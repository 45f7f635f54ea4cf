package handlers

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/dvloznov/voice-ledger/internal/voiceflow"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// DefaultSessionTTL is how long an untouched voice session is kept.
const DefaultSessionTTL = 30 * time.Minute

const writeWait = 5 * time.Second

var errNoClient = errors.New("no capture client connected")

// Server message types.
const (
	msgState     = "state"
	msgCommand   = "command"
	msgPreview   = "preview"
	msgCommitted = "committed"
	msgError     = "error"
)

// serverMessage is sent to the capture client over the websocket.
type serverMessage struct {
	Type    string            `json:"type"`
	Status  *voiceflow.Status `json:"status,omitempty"`
	Command capture.Command   `json:"command,omitempty"`
	Options *capture.Options  `json:"options,omitempty"`
	Preview *review.Preview   `json:"preview,omitempty"`
	Kind    voiceflow.Kind    `json:"kind,omitempty"`
	Message string            `json:"message,omitempty"`
}

func errorMessage(err error) serverMessage {
	return serverMessage{
		Type:    msgError,
		Kind:    voiceflow.Classify(err),
		Message: voiceflow.UserMessage(err),
	}
}

// clientConn serializes writes to one websocket.
type clientConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *clientConn) send(msg serverMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

// Session is one voice flow plus the websocket client, if any, that runs
// its speech recognizer.
type Session struct {
	ID   string
	Flow *voiceflow.Flow

	rec *capture.StreamRecognizer
	log zerolog.Logger

	// armed is set by a successful start and consumed by the stop that
	// processes the recording.
	armed atomic.Bool

	mu     sync.Mutex
	client *clientConn
}

// attach makes ws the session's capture client, closing any previous one.
func (s *Session) attach(ws *websocket.Conn) *clientConn {
	conn := &clientConn{ws: ws}
	s.mu.Lock()
	prev := s.client
	s.client = conn
	s.mu.Unlock()

	if prev != nil {
		s.log.Info().Msg("Replacing capture client")
		prev.ws.Close()
	}
	return conn
}

// detach drops conn if it is still the current client. A recording the
// client was running is cancelled.
func (s *Session) detach(conn *clientConn) {
	s.mu.Lock()
	current := s.client == conn
	if current {
		s.client = nil
	}
	s.mu.Unlock()

	conn.ws.Close()
	if current {
		s.rec.SetSupported(false)
		s.armed.Store(false)
		s.Flow.CancelCapture()
	}
}

func (s *Session) currentClient() *clientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// send delivers msg to the attached client.
func (s *Session) send(msg serverMessage) error {
	conn := s.currentClient()
	if conn == nil {
		return errNoClient
	}
	return conn.send(msg)
}

// forward is the recognizer's command channel to the client.
func (s *Session) forward(cmd capture.Command, opts capture.Options) error {
	return s.send(serverMessage{Type: msgCommand, Command: cmd, Options: &opts})
}

func (s *Session) publishStatus() {
	st := s.Flow.Status()
	if err := s.send(serverMessage{Type: msgState, Status: &st}); err != nil && !errors.Is(err, errNoClient) {
		s.log.Debug().Err(err).Msg("Failed to push status")
	}
}

func (s *Session) close() {
	s.Flow.Abandon()
	s.mu.Lock()
	conn := s.client
	s.client = nil
	s.mu.Unlock()
	if conn != nil {
		conn.ws.Close()
	}
}

// Sessions is the registry of live voice sessions. Sessions expire after
// the TTL without access.
type Sessions struct {
	deps    voiceflow.Deps
	capture capture.Config
	log     zerolog.Logger
	cache   *cache.Cache
}

// NewSessions creates a registry building flows from deps. cfg.OnChange is
// ignored; each session installs its own.
func NewSessions(deps voiceflow.Deps, cfg capture.Config, ttl time.Duration, log zerolog.Logger) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	c := cache.New(ttl, ttl/2)
	c.OnEvicted(func(id string, v interface{}) {
		log.Debug().Str("session_id", id).Msg("Voice session closed")
		v.(*Session).close()
	})
	return &Sessions{deps: deps, capture: cfg, log: log, cache: c}
}

// Create starts a new session. Capture stays unsupported until a client
// connects and reports a recognizer.
func (s *Sessions) Create() *Session {
	id := uuid.NewString()
	log := s.log.With().Str("session_id", id).Logger()
	sess := &Session{ID: id, log: log}
	sess.rec = capture.NewStreamRecognizer(false, sess.forward)

	cfg := s.capture
	cfg.OnChange = func(capture.Snapshot) { sess.publishStatus() }
	sess.Flow = voiceflow.NewFlow(capture.NewSession(sess.rec, cfg, log), s.deps, log)

	s.cache.Set(id, sess, cache.DefaultExpiration)
	log.Info().Msg("Voice session created")
	return sess
}

// Get returns the session and extends its lifetime.
func (s *Sessions) Get(id string) (*Session, bool) {
	v, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	sess := v.(*Session)
	s.cache.Set(id, sess, cache.DefaultExpiration)
	return sess, true
}

// Delete closes and removes the session.
func (s *Sessions) Delete(id string) bool {
	if _, found := s.cache.Get(id); !found {
		return false
	}
	s.cache.Delete(id)
	return true
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.cache.ItemCount()
}

// Close closes every session.
func (s *Sessions) Close() {
	for id := range s.cache.Items() {
		s.cache.Delete(id)
	}
}
