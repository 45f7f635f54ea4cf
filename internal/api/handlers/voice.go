package handlers

import (
	"context"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/api/middleware"
	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const maxMessageBytes = 64 << 10

// Client message types.
const (
	msgHello    = "hello"
	msgStart    = "start"
	msgStop     = "stop"
	msgCancel   = "cancel"
	msgAbandon  = "abandon"
	msgRerecord = "rerecord"
	msgEvent    = "event"
)

// clientMessage is received from the capture client. Event carries
// recognizer output while a run is active.
type clientMessage struct {
	Type      string         `json:"type"`
	Supported bool           `json:"supported,omitempty"`
	Event     *capture.Event `json:"event,omitempty"`
}

// VoiceHandler serves voice sessions over REST and a capture websocket.
type VoiceHandler struct {
	sessions *Sessions
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewVoiceHandler creates a new voice handler.
func NewVoiceHandler(sessions *Sessions, log zerolog.Logger) *VoiceHandler {
	return &VoiceHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CORS is open for the REST API as well.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// session resolves {id} or writes a 404.
func (h *VoiceHandler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Voice session not found")
	}
	return sess, ok
}

// CreateSession handles POST /api/voice/sessions
func (h *VoiceHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Create()
	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     sess.ID,
		"status": sess.Flow.Status(),
	})
}

// GetSession handles GET /api/voice/sessions/{id}
func (h *VoiceHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sess.Flow.Status())
}

// DeleteSession handles DELETE /api/voice/sessions/{id}
func (h *VoiceHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(chi.URLParam(r, "id")) {
		middleware.WriteError(w, http.StatusNotFound, "Voice session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Process handles POST /api/voice/sessions/{id}/process with a transcript
// produced elsewhere.
func (h *VoiceHandler) Process(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	preview, err := sess.Flow.Process(r.Context(), req.Text)
	if err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	sess.publishStatus()
	middleware.WriteJSON(w, http.StatusOK, preview)
}

// Abandon handles POST /api/voice/sessions/{id}/abandon
func (h *VoiceHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.armed.Store(false)
	sess.Flow.Abandon()
	middleware.WriteJSON(w, http.StatusOK, sess.Flow.Status())
}

// reviewEdit is a partial update of the open review. Fields are applied
// in declaration order as one change; a rejected field leaves the review
// untouched.
type reviewEdit struct {
	Mode          *review.Mode            `json:"mode,omitempty"`
	Type          *domain.TransactionType `json:"type,omitempty"`
	EntityID      *string                 `json:"entity_id,omitempty"`
	OriginID      *string                 `json:"origin_id,omitempty"`
	DestinationID *string                 `json:"destination_id,omitempty"`
	CategoryID    *string                 `json:"category_id,omitempty"`
	Amount        *float64                `json:"amount,omitempty"`
	Description   *string                 `json:"description,omitempty"`
	Date          *civil.Date             `json:"date,omitempty"`
}

func (e reviewEdit) changes() []review.Change {
	var changes []review.Change
	if e.Mode != nil {
		changes = append(changes, review.ModeChange(*e.Mode))
	}
	if e.Type != nil {
		changes = append(changes, review.TypeChange(*e.Type))
	}
	if e.EntityID != nil {
		changes = append(changes, review.EntityChange(*e.EntityID))
	}
	if e.OriginID != nil {
		changes = append(changes, review.OriginChange(*e.OriginID))
	}
	if e.DestinationID != nil {
		changes = append(changes, review.DestinationChange(*e.DestinationID))
	}
	if e.CategoryID != nil {
		changes = append(changes, review.CategoryChange(*e.CategoryID))
	}
	if e.Amount != nil {
		changes = append(changes, review.AmountChange(*e.Amount))
	}
	if e.Description != nil {
		changes = append(changes, review.DescriptionChange(*e.Description))
	}
	if e.Date != nil {
		changes = append(changes, review.DateChange(*e.Date))
	}
	return changes
}

// EditReview handles PATCH /api/voice/sessions/{id}/review
func (h *VoiceHandler) EditReview(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var edit reviewEdit
	if !decodeJSON(w, r, &edit) {
		return
	}

	c, err := sess.Flow.Review()
	if err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	if err := c.Apply(edit.changes()...); err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	sess.publishStatus()
	middleware.WriteJSON(w, http.StatusOK, c.View())
}

// GetReview handles GET /api/voice/sessions/{id}/review
func (h *VoiceHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	c, err := sess.Flow.Review()
	if err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c.View())
}

// Confirm handles POST /api/voice/sessions/{id}/review/confirm
func (h *VoiceHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	tx, err := sess.Flow.Confirm(r.Context())
	if err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	if err := sess.send(serverMessage{Type: msgCommitted}); err == nil {
		sess.publishStatus()
	}
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// Discard handles POST /api/voice/sessions/{id}/review/discard
func (h *VoiceHandler) Discard(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Flow.Discard(); err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	sess.publishStatus()
	middleware.WriteJSON(w, http.StatusOK, sess.Flow.Status())
}

// Rerecord handles POST /api/voice/sessions/{id}/review/rerecord. The
// session's capture client starts recording again.
func (h *VoiceHandler) Rerecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.rerecord(context.WithoutCancel(r.Context()), sess); err != nil {
		middleware.WriteFlowError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sess.Flow.Status())
}

func (h *VoiceHandler) rerecord(ctx context.Context, sess *Session) error {
	if err := sess.Flow.Rerecord(ctx); err != nil {
		return err
	}
	sess.armed.Store(true)
	return nil
}

// Capture handles GET /api/voice/sessions/{id}/capture, upgrading to a
// websocket over which the client runs the speech recognizer.
func (h *VoiceHandler) Capture(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	conn := sess.attach(ws)
	defer sess.detach(conn)
	sess.log.Info().Msg("Capture client connected")

	// Recognition runs outlive the upgrade request's context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sess.publishStatus()
	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log.Warn().Err(err).Msg("Capture client read failed")
			}
			sess.log.Info().Msg("Capture client disconnected")
			return
		}
		h.handleMessage(ctx, sess, conn, msg)
	}
}

func (h *VoiceHandler) handleMessage(ctx context.Context, sess *Session, conn *clientConn, msg clientMessage) {
	reply := func(m serverMessage) {
		if err := conn.send(m); err != nil {
			sess.log.Debug().Err(err).Str("type", m.Type).Msg("Failed to reply to capture client")
		}
	}

	switch msg.Type {
	case msgHello:
		sess.rec.SetSupported(msg.Supported)
		sess.log.Debug().Bool("supported", msg.Supported).Msg("Capture client hello")
		sess.publishStatus()

	case msgStart:
		if err := sess.Flow.StartCapture(ctx); err != nil {
			reply(errorMessage(err))
			return
		}
		sess.armed.Store(true)

	case msgStop:
		// Only the first stop after a start processes the recording.
		if !sess.armed.CompareAndSwap(true, false) {
			sess.publishStatus()
			return
		}
		// Stop waits for recognizer events, which arrive on this read loop.
		go func() {
			preview, err := sess.Flow.StopCapture(ctx)
			if err != nil {
				reply(errorMessage(err))
				return
			}
			reply(serverMessage{Type: msgPreview, Preview: &preview})
		}()

	case msgCancel:
		sess.armed.Store(false)
		sess.Flow.CancelCapture()

	case msgAbandon:
		sess.armed.Store(false)
		sess.Flow.Abandon()

	case msgRerecord:
		if err := h.rerecord(ctx, sess); err != nil {
			reply(errorMessage(err))
		}

	case msgEvent:
		if msg.Event == nil {
			return
		}
		ev := *msg.Event
		if ev.Kind == capture.EventError {
			ev.Code = capture.ClassifyCode(string(ev.Code))
		}
		if !sess.rec.Push(ev) {
			sess.log.Debug().Str("kind", string(ev.Kind)).Msg("Dropping recognizer event outside a run")
		}

	default:
		reply(serverMessage{Type: msgError, Message: "unknown message type: " + msg.Type})
	}
}
