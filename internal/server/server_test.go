package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/herald/internal/config"
	"github.com/dukerupert/herald/internal/database"
)

func newTestServer(t *testing.T, sendRate, sendBurst int) *Server {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		DefaultTimezone:   "UTC",
		DispatchTimeout:   time.Second,
		PersistTimeout:    time.Second,
		PreferenceTTL:     time.Second,
		Workers:           1,
		QueueSize:         4,
		SendRate:          sendRate,
		SendBurst:         sendBurst,
		EmailProvider:     "none",
		WebhookTimeout:    time.Second,
		MaintenanceWindow: time.Hour,
	}
	s, err := New(cfg, db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func do(h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	h := newTestServer(t, 60, 5).Router()

	if rec := do(h, "GET", "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health: %d %s", rec.Code, rec.Body)
	}
	rec := do(h, "GET", "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics: %d", rec.Code)
	}
	if rec := do(h, "GET", "/api/notifications", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated: %d, want 401", rec.Code)
	}
}

func TestSendAndListThroughRouter(t *testing.T) {
	s := newTestServer(t, 60, 5)
	h := s.Router()

	body := `{"user_id":"buyer-7","type":"payment_received","title":"Payment received","message":"You were paid $120","priority":"high","channels":["in_app"]}`
	rec := do(h, "POST", "/api/notifications", "payments-service", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"state":"dispatched"`) {
		t.Errorf("send response = %s", rec.Body)
	}

	rec = do(h, "GET", "/api/notifications/unread-count", "buyer-7", "")
	if strings.TrimSpace(rec.Body.String()) != `{"count":1}` {
		t.Errorf("unread = %s", rec.Body)
	}

	rec = do(h, "GET", "/metrics", "", "")
	if !strings.Contains(rec.Body.String(), `herald_dispatch_total{state="dispatched"} 1`) {
		t.Error("dispatch counter not exported")
	}
}

func TestAsyncSendDrainsOnShutdown(t *testing.T) {
	s := newTestServer(t, 60, 5)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h := s.Router()

	body := `{"user_id":"seller-2","type":"new_inquiry","title":"Question","message":"Is it available?","channels":["in_app"]}`
	rec := do(h, "POST", "/api/notifications?async=true", "search-service", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async send: %d %s", rec.Code, rec.Body)
	}

	cancel()
	s.Shutdown()

	n, err := s.Dispatcher().UnreadCount(context.Background(), "seller-2")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 1 {
		t.Errorf("unread = %d, want 1 after drain", n)
	}
}

func TestSendIsRateLimitedPerCaller(t *testing.T) {
	h := newTestServer(t, 1, 2).Router()
	body := `{"user_id":"u1","type":"promotional","title":"Sale","message":"Half price","channels":["in_app"]}`

	for i := range 2 {
		if rec := do(h, "POST", "/api/notifications", "marketing", body); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	if rec := do(h, "POST", "/api/notifications", "marketing", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: %d, want 429", rec.Code)
	}
	if rec := do(h, "POST", "/api/notifications", "orders", body); rec.Code != http.StatusCreated {
		t.Errorf("other caller: %d, want 201", rec.Code)
	}
	// reads are not limited
	if rec := do(h, "GET", "/api/notifications", "u1", ""); rec.Code != http.StatusOK {
		t.Errorf("list: %d", rec.Code)
	}
}
