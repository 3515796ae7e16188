package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/herald/internal/auth"
	"github.com/dukerupert/herald/internal/dispatch"
	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/queue"
)

// Dispatcher is what the notification routes need from dispatch.Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, req model.NotificationRequest) (*dispatch.Result, error)
	ListNotifications(ctx context.Context, userID string, page dispatch.Page, typeFilter model.NotificationType) (*dispatch.ListResult, error)
	MarkAsRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Enqueuer accepts requests for background dispatch.
type Enqueuer interface {
	Enqueue(req model.NotificationRequest) error
}

type NotificationHandler struct {
	dispatcher Dispatcher
	queue      Enqueuer
	logger     *slog.Logger
}

// NewNotificationHandler creates the handler. A nil queue makes ?async=true
// fall back to synchronous dispatch.
func NewNotificationHandler(d Dispatcher, q Enqueuer, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: d, queue: q, logger: logger}
}

// Create handles POST /api/notifications
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.NotificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" && h.queue != nil {
		err := h.queue.Enqueue(req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.fail(w, err, "enqueue notification")
		}
		return
	}

	res, err := h.dispatcher.Send(r.Context(), req)
	if err != nil {
		h.fail(w, err, "send notification")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page := dispatch.Page{
		Number: queryInt(r, "page", 1),
		Size:   queryInt(r, "page_size", dispatch.DefaultPageSize),
	}
	typ := model.NotificationType(r.URL.Query().Get("type"))

	res, err := h.dispatcher.ListNotifications(r.Context(), auth.UserID(r.Context()), page, typ)
	if err != nil {
		h.fail(w, err, "list notifications")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.MarkAsRead(r.Context(), r.PathValue("id"), auth.UserID(r.Context())); err != nil {
		h.fail(w, err, "mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.dispatcher.MarkAllRead(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "mark all read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Delete(r.Context(), r.PathValue("id"), auth.UserID(r.Context())); err != nil {
		h.fail(w, err, "delete notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.dispatcher.UnreadCount(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "count unread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *NotificationHandler) fail(w http.ResponseWriter, err error, op string) {
	var verr *dispatch.ValidationError
	var perr *dispatch.PersistenceError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid notification request",
			"fields": verr.Fields,
		})
	case errors.Is(err, dispatch.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case errors.As(err, &perr):
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store notification")
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
