package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sotrian/sotrian/backend/internal/credential"
	"github.com/sotrian/sotrian/backend/internal/middleware"
	chatService "github.com/sotrian/sotrian/backend/internal/service/chat"
	"github.com/sotrian/sotrian/backend/internal/service/detection"
	"github.com/sotrian/sotrian/backend/internal/store"
	"github.com/sotrian/sotrian/backend/pkg/protocol"
	"github.com/sotrian/sotrian/backend/pkg/utils"
)

// DefaultIdleTimeout bounds the silence between upstream events before the
// turn is forced into an error terminal state.
const DefaultIdleTimeout = 90 * time.Second

// Handler brokers one turn between a client and the detection engine: it
// relays sanitized chunks, reconstructs the full reply, classifies the
// terminal result, and persists exactly one assistant message per completed
// turn.
type Handler struct {
	chatSvc     *chatService.Service
	detector    *detection.Client
	creds       credential.Resolver
	validate    *validator.Validate
	idleTimeout time.Duration
}

// New creates a stream relay handler.
func New(chatSvc *chatService.Service, detector *detection.Client, creds credential.Resolver, idleTimeout time.Duration) *Handler {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Handler{
		chatSvc:     chatSvc,
		detector:    detector,
		creds:       creds,
		validate:    validator.New(),
		idleTimeout: idleTimeout,
	}
}

// RegisterRoutes mounts the turn endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/{chatID}/stream", h.handleTurn)
}

type turnRequest struct {
	Message string `json:"message" validate:"required_without=Image"`
	Mode    string `json:"mode" validate:"required,oneof=detection advisor"`
	Image   string `json:"image,omitempty"`
	// Replace overwrites the trailing user message instead of appending.
	// Set by clients re-issuing an edited or reloaded turn.
	Replace bool `json:"replace,omitempty"`
}

// handleTurn runs one turn end to end. Precondition failures return a plain
// status; once the event stream is open every failure becomes a single
// error frame.
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}
	chatID := chi.URLParam(r, "chatID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "message text or image is required and mode must be detection or advisor")
		return
	}
	mode := protocol.Mode(req.Mode)

	ctx := r.Context()

	// The user's turn is recorded before anything goes upstream; the text
	// and image survive even when detection fails.
	if _, err := h.chatSvc.AppendUserMessage(ctx, ident.ID, chatID, req.Message, req.Image, mode, req.Replace); err != nil {
		respondServiceError(w, err)
		return
	}

	key, err := h.creds.Resolve(ctx, ident.ID)
	if errors.Is(err, credential.ErrNotFound) {
		utils.RespondError(w, http.StatusPreconditionFailed, "no detection credential configured")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "credential lookup failed")
		return
	}

	token, err := h.chatSvc.BeginTurn(ctx, chatID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)

	email := ident.Email
	if email == "" {
		email = ident.Username + "@sotrian.local"
	}
	upstream, err := h.detector.OpenTurn(ctx, mode, detection.TurnRequest{
		Query:        req.Message,
		GoogleAPIKey: key,
		UserInfo:     detection.UserContext{Username: ident.Username, Email: email},
		SessionID:    chatID,
		Image:        req.Image,
	})
	if err != nil {
		log.Printf("[stream] upstream open failed for chat=%s: %v", chatID, err)
		h.sendError(w, flusher, "detection engine unavailable")
		return
	}
	defer upstream.Close()

	h.relayTurn(ctx, w, flusher, upstream, chatID, mode, token)
}

type recvResult struct {
	ev  detection.Event
	err error
}

// relayTurn pumps upstream events to the client until a terminal state. The
// reply persists only when a complete event arrives while the turn token is
// still current; cancellation and errors persist nothing.
func (h *Handler) relayTurn(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, upstream *detection.Stream, chatID string, mode protocol.Mode, token int64) {
	events := make(chan recvResult)
	go func() {
		for {
			ev, err := upstream.Recv()
			select {
			case events <- recvResult{ev: ev, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var reply strings.Builder

	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			// Closing the connection is the client's only cancellation
			// signal; it persists nothing.
			log.Printf("[stream] client disconnected mid-turn for chat=%s", chatID)
			return

		case <-idle.C:
			log.Printf("[stream] idle timeout waiting on engine for chat=%s", chatID)
			h.sendError(w, flusher, "detection engine stalled")
			return

		case res := <-events:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(h.idleTimeout)

			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					h.sendError(w, flusher, "detection stream ended before completing")
				} else {
					log.Printf("[stream] upstream transport error for chat=%s: %v", chatID, res.err)
					h.sendError(w, flusher, "detection stream failed")
				}
				return
			}

			if done := h.handleEvent(ctx, w, flusher, res.ev, &reply, chatID, mode, token); done {
				return
			}
		}
	}
}

// handleEvent processes one upstream event; reports whether the turn ended.
func (h *Handler) handleEvent(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ev detection.Event, reply *strings.Builder, chatID string, mode protocol.Mode, token int64) bool {
	switch ev.Type {
	case detection.EventStart:
		// Engine preamble, nothing for the client.
		return false

	case detection.EventContent:
		chunk := sanitizeChunk(ev.Content)
		if chunk == "" {
			return false
		}
		reply.WriteString(chunk)
		utils.SendSSEChunk(w, flusher, protocol.StreamEvent{Type: protocol.EventContent, Content: chunk})
		return false

	case detection.EventError:
		h.sendError(w, flusher, ev.Error)
		return true

	case detection.EventComplete:
		var raw detection.EngineResult
		if ev.Result != nil {
			raw = *ev.Result
		}
		result := detection.Classify(mode, raw)

		utils.SendSSEChunk(w, flusher, protocol.StreamEvent{Type: protocol.EventComplete, Result: result})

		if err := h.chatSvc.PersistAssistantTurn(ctx, chatID, reply.String(), mode, result, token); err != nil {
			// The client already rendered the reply; durable state has
			// diverged. Surface a secondary error so the client can flag
			// the bubble as unsaved.
			log.Printf("[stream] failed to persist completed turn for chat=%s: %v", chatID, err)
			h.sendError(w, flusher, "reply could not be saved to the conversation")
		}
		return true

	default:
		log.Printf("[stream] skipping unknown engine event type %q for chat=%s", ev.Type, chatID)
		return false
	}
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, msg string) {
	utils.SendSSEChunk(w, flusher, protocol.StreamEvent{Type: protocol.EventError, Error: msg})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrChatNotFound):
		utils.RespondError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, chatService.ErrNotOwner):
		utils.RespondError(w, http.StatusForbidden, "chat belongs to another user")
	case errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message text or image is required")
	default:
		utils.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("unexpected error: %v", err))
	}
}
