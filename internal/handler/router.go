package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sotrian/sotrian/backend/internal/credential"
	chatHandler "github.com/sotrian/sotrian/backend/internal/handler/chat"
	credentialHandler "github.com/sotrian/sotrian/backend/internal/handler/credential"
	"github.com/sotrian/sotrian/backend/internal/handler/stream"
	middlewarePkg "github.com/sotrian/sotrian/backend/internal/middleware"
	chatService "github.com/sotrian/sotrian/backend/internal/service/chat"
	"github.com/sotrian/sotrian/backend/internal/service/detection"
	"github.com/sotrian/sotrian/backend/internal/store"
	"github.com/sotrian/sotrian/backend/pkg/utils"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, detector *detection.Client, creds credential.Resolver, credStore store.CredentialStore, idleTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/supported-fraud-types", handleSupportedFraudTypes)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireIdentity)

			chatHandler.New(chatSvc).RegisterRoutes(authed)
			credentialHandler.New(credStore).RegisterRoutes(authed)
			stream.New(chatSvc, detector, creds, idleTimeout).RegisterRoutes(authed)
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"message":   "all systems operational",
	})
}

// fraudTypeInfo describes one supported detection category for clients.
type fraudTypeInfo struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Method      string `json:"method"`
	Example     string `json:"example"`
}

func handleSupportedFraudTypes(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"fraudTypes": []fraudTypeInfo{
			{
				Type:        "credit_card",
				Name:        "Credit Card Fraud",
				Description: "Detect fraudulent credit card transactions",
				Method:      "ML Model + LLM",
				Example:     "Transaction with Amount: 500, Time: 5000",
			},
			{
				Type:        "email_spam",
				Name:        "Email/SMS Spam",
				Description: "Detect spam and phishing in emails/SMS",
				Method:      "ML Model + LLM",
				Example:     "CONGRATULATIONS! You won a prize!",
			},
			{
				Type:        "url_fraud",
				Name:        "URL/Phishing Detection",
				Description: "Detect malicious URLs and phishing attempts",
				Method:      "ML Model + LLM",
				Example:     "http://secure-paypal-login.suspicious.com",
			},
			{
				Type:        "upi_fraud",
				Name:        "UPI Transaction Fraud",
				Description: "Detect fraudulent UPI payments",
				Method:      "LLM Reasoning",
				Example:     "UPI payment of 50000 rupees at midnight",
			},
			{
				Type:        "qr_fraud",
				Name:        "QR Code Fraud",
				Description: "Detect fraudulent QR codes from images",
				Method:      "ML Model + LLM",
				Example:     "Photo of a QR code sticker on a parking meter",
			},
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
