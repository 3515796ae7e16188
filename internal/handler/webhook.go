package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/herald/internal/auth"
	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/store"
	"github.com/dukerupert/herald/internal/subscription"
)

type WebhookRegistry interface {
	ListWebhooks(ctx context.Context, userID string) ([]model.WebhookEndpoint, error)
	AddWebhook(ctx context.Context, userID, rawURL, secret string) (*model.WebhookEndpoint, error)
	RemoveWebhook(ctx context.Context, userID string, id int64) error
}

type WebhookHandler struct {
	registry WebhookRegistry
	logger   *slog.Logger
}

func NewWebhookHandler(r WebhookRegistry, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{registry: r, logger: logger}
}

type webhookRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// createdWebhook is the only response that carries the signing secret.
type createdWebhook struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// List handles GET /api/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.registry.ListWebhooks(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list webhooks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if eps == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

// Create handles POST /api/webhooks
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ep, err := h.registry.AddWebhook(r.Context(), auth.UserID(r.Context()), req.URL, req.Secret)
	var verr *subscription.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case err != nil:
		h.logger.Error("add webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save webhook")
	default:
		writeJSON(w, http.StatusCreated, createdWebhook{ID: ep.ID, URL: ep.URL, Secret: ep.Secret, CreatedAt: ep.CreatedAt})
	}
}

// Delete handles DELETE /api/webhooks/{id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	err = h.registry.RemoveWebhook(r.Context(), auth.UserID(r.Context()), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case err != nil:
		h.logger.Error("remove webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
