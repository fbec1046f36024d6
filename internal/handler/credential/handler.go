package credential

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sotrian/sotrian/backend/internal/middleware"
	"github.com/sotrian/sotrian/backend/internal/store"
	"github.com/sotrian/sotrian/backend/pkg/utils"
)

// Handler stores per-user upstream credentials. The blob is opaque here;
// encrypting it at rest belongs to the storage deployment.
type Handler struct {
	creds store.CredentialStore
}

// New creates a credential handler.
func New(creds store.CredentialStore) *Handler {
	return &Handler{creds: creds}
}

// RegisterRoutes mounts the credential endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/credential", h.handlePut)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	var payload struct {
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Credential == "" {
		utils.RespondError(w, http.StatusBadRequest, "credential is required")
		return
	}

	if err := h.creds.PutCredential(r.Context(), ident.ID, []byte(payload.Credential)); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}
