package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/herald/internal/auth"
	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/preference"
)

type PreferenceService interface {
	Get(ctx context.Context, userID string) (*model.UserPreferences, error)
	Update(ctx context.Context, userID string, patch map[model.NotificationType]preference.Patch) (*model.UserPreferences, error)
}

type PreferenceHandler struct {
	prefs  PreferenceService
	logger *slog.Logger
}

func NewPreferenceHandler(p PreferenceService, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: p, logger: logger}
}

// Get handles GET /api/preferences
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.prefs.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type updatePreferencesRequest struct {
	Types map[model.NotificationType]preference.Patch `json:"types"`
}

// Update handles PUT /api/preferences
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updatePreferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Types) == 0 {
		writeError(w, http.StatusBadRequest, "types is required")
		return
	}

	prefs, err := h.prefs.Update(r.Context(), auth.UserID(r.Context()), req.Types)
	var verr *preference.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "invalid preferences",
			"problems": verr.Problems,
		})
	case err != nil:
		h.logger.Error("update preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
	default:
		writeJSON(w, http.StatusOK, prefs)
	}
}
