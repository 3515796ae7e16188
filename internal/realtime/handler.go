package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/herald/internal/auth"
)

// UnreadCounter reports a user's current unread count. It seeds a new
// session so the badge is correct before the next event arrives.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// HandleWebSocket upgrades the caller's connection and subscribes it to the
// caller's own topic. counter may be nil.
func HandleWebSocket(hub *Hub, counter UnreadCounter, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == "" {
			http.Error(w, "missing user", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "user_id", userID, "error", err)
			return
		}
		defer conn.CloseNow()

		newSession(hub, conn, userID).serve(r.Context(), greeting(r.Context(), counter, userID, logger))
	}
}

func greeting(ctx context.Context, counter UnreadCounter, userID string, logger *slog.Logger) []byte {
	if counter == nil {
		return nil
	}
	n, err := counter.UnreadCount(ctx, userID)
	if err != nil {
		logger.Warn("unread count for new session", "user_id", userID, "error", err)
		return nil
	}
	data, err := json.Marshal(UnreadCountMessage(n))
	if err != nil {
		return nil
	}
	return data
}
