package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sotrian/sotrian/backend/internal/middleware"
	chatService "github.com/sotrian/sotrian/backend/internal/service/chat"
	"github.com/sotrian/sotrian/backend/internal/store"
	"github.com/sotrian/sotrian/backend/pkg/utils"
)

// Handler exposes chat documents over HTTP.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the chat CRUD surface.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleCreate)
	r.Get("/chat", h.handleList)
	r.Get("/chat/{chatID}", h.handleGet)
	r.Delete("/chat/{chatID}", h.handleDelete)
	r.Delete("/chat/{chatID}/last-assistant-message", h.handleDeleteLastAssistant)
}

// chatSummary is the list view: chat metadata without the message bodies.
type chatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	c, err := h.chatSvc.CreateChat(r.Context(), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	chats, err := h.chatSvc.ListChats(r.Context(), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	summaries := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, chatSummary{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  len(c.Messages),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	c, err := h.chatSvc.GetChat(r.Context(), ident.ID, chi.URLParam(r, "chatID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	if err := h.chatSvc.SoftDelete(r.Context(), ident.ID, chi.URLParam(r, "chatID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDeleteLastAssistant removes the trailing assistant reply. Idempotent:
// deleting when the tail is a user message, or the chat is empty, succeeds
// without changing anything.
func (h *Handler) handleDeleteLastAssistant(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	removed, err := h.chatSvc.DeleteLastAssistant(r.Context(), ident.ID, chi.URLParam(r, "chatID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrChatNotFound):
		utils.RespondError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, chatService.ErrNotOwner):
		utils.RespondError(w, http.StatusForbidden, "chat belongs to another user")
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
