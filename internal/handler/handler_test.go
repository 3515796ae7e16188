package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/herald/internal/database"
	"github.com/dukerupert/herald/internal/dispatch"
	"github.com/dukerupert/herald/internal/middleware"
	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/preference"
	"github.com/dukerupert/herald/internal/queue"
	"github.com/dukerupert/herald/internal/store"
	"github.com/dukerupert/herald/internal/subscription"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type okSender struct{ channel model.Channel }

func (s okSender) Channel() model.Channel { return s.channel }

func (s okSender) Send(context.Context, *model.Notification, model.Contact) model.ChannelOutcome {
	return model.Outcome(s.channel, nil)
}

type fullQueue struct{}

func (fullQueue) Enqueue(model.NotificationRequest) error { return queue.ErrFull }

type testAPI struct {
	handler http.Handler
}

func newTestAPI(t *testing.T, q Enqueuer) *testAPI {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notifications := store.NewNotificationStore(db)
	resolver := preference.NewResolver(store.NewPreferenceStore(db), discard)
	registry := subscription.NewRegistry(store.NewPushStore(db), store.NewWebhookStore(db))
	d := dispatch.New(dispatch.Deps{
		Store:       notifications,
		Preferences: resolver,
		Directory:   store.NewUserStore(db),
		Logger:      discard,
		Senders:     []dispatch.ChannelSender{okSender{model.ChannelInApp}, okSender{model.ChannelEmail}},
	})

	nh := NewNotificationHandler(d, q, discard)
	ph := NewPreferenceHandler(resolver, discard)
	pushH := NewPushHandler(registry, "BPublicKey", discard)
	wh := NewWebhookHandler(registry, discard)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/notifications", nh.Create)
	mux.HandleFunc("GET /api/notifications", nh.List)
	mux.HandleFunc("GET /api/notifications/unread-count", nh.UnreadCount)
	mux.HandleFunc("POST /api/notifications/read-all", nh.MarkAllRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", nh.MarkRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", nh.Delete)
	mux.HandleFunc("GET /api/preferences", ph.Get)
	mux.HandleFunc("PUT /api/preferences", ph.Update)
	mux.HandleFunc("POST /api/push/subscribe", pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscribe", pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", pushH.GetVAPIDKey)
	mux.HandleFunc("GET /api/webhooks", wh.List)
	mux.HandleFunc("POST /api/webhooks", wh.Create)
	mux.HandleFunc("DELETE /api/webhooks/{id}", wh.Delete)

	return &testAPI{handler: middleware.RequireUser(mux)}
}

func (a *testAPI) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

const offerBody = `{"user_id":"seller-1","type":"offer_received","title":"New offer","message":"$450 for your bike","priority":"medium","channels":["in_app","email","sms"]}`

func TestCreateNotification(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, "POST", "/api/notifications", "orders-service", offerBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	res := decode[dispatch.Result](t, rec)
	if res.NotificationID == "" || res.State != model.StateDispatched {
		t.Errorf("result = %+v", res)
	}
	// sms is not a default channel
	if len(res.Outcomes) != 2 {
		t.Errorf("outcomes = %+v, want in_app and email", res.Outcomes)
	}
}

func TestCreateNotificationValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, "POST", "/api/notifications", "svc", `{"user_id":"u1","type":"offer_received","title":"","message":"m","channels":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decode[struct {
		Fields []dispatch.FieldError `json:"fields"`
	}](t, rec)
	if len(body.Fields) < 2 {
		t.Errorf("fields = %+v, want title and channels", body.Fields)
	}

	rec = api.do(t, "POST", "/api/notifications", "svc", `{"priority":"whenever"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad priority: status = %d, want 400", rec.Code)
	}
}

func TestCreateNotificationAsync(t *testing.T) {
	api := newTestAPI(t, fullQueue{})

	rec := api.do(t, "POST", "/api/notifications?async=true", "svc", offerBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 for a full queue", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestRequiresUser(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(t, "GET", "/api/notifications", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestInboxFlow(t *testing.T) {
	api := newTestAPI(t, nil)

	var ids []string
	for range 3 {
		rec := api.do(t, "POST", "/api/notifications", "svc", offerBody)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create: %d %s", rec.Code, rec.Body)
		}
		ids = append(ids, decode[dispatch.Result](t, rec).NotificationID)
	}

	rec := api.do(t, "GET", "/api/notifications?page=1&page_size=2", "seller-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	list := decode[dispatch.ListResult](t, rec)
	if list.Total != 3 || len(list.Notifications) != 2 || list.Unread != 3 {
		t.Errorf("list = total %d, len %d, unread %d", list.Total, len(list.Notifications), list.Unread)
	}

	// another user sees nothing
	rec = api.do(t, "GET", "/api/notifications", "someone-else", "")
	if decode[dispatch.ListResult](t, rec).Total != 0 {
		t.Error("notifications leaked to another user")
	}

	rec = api.do(t, "POST", "/api/notifications/"+ids[0]+"/read", "seller-1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("mark read: %d", rec.Code)
	}
	rec = api.do(t, "POST", "/api/notifications/"+ids[0]+"/read", "seller-1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("mark read again: %d", rec.Code)
	}
	rec = api.do(t, "POST", "/api/notifications/"+ids[0]+"/read", "someone-else", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("mark other user's: %d, want 404", rec.Code)
	}

	rec = api.do(t, "GET", "/api/notifications/unread-count", "seller-1", "")
	if got := decode[map[string]int](t, rec)["count"]; got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}

	rec = api.do(t, "POST", "/api/notifications/read-all", "seller-1", "")
	if got := decode[map[string]int64](t, rec)["updated"]; got != 2 {
		t.Errorf("read-all updated = %d, want 2", got)
	}

	rec = api.do(t, "DELETE", "/api/notifications/"+ids[1], "seller-1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rec.Code)
	}
	rec = api.do(t, "DELETE", "/api/notifications/"+ids[1], "seller-1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete again: %d, want 404", rec.Code)
	}
}

func TestPreferences(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, "GET", "/api/preferences", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	prefs := decode[model.UserPreferences](t, rec)
	if len(prefs.Types) != len(model.AllTypes()) {
		t.Errorf("types = %d, want every type", len(prefs.Types))
	}

	rec = api.do(t, "PUT", "/api/preferences", "u1",
		`{"types":{"promotional":{"enabled":false},"offer_received":{"channels":["push"],"quiet_hours":{"start":"22:00","end":"07:00","timezone":"Europe/Berlin"}}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body)
	}
	prefs = decode[model.UserPreferences](t, rec)
	if prefs.Types[model.TypePromotional].Enabled {
		t.Error("promotional still enabled")
	}
	offer := prefs.Types[model.TypeOfferReceived]
	if len(offer.Channels) != 1 || offer.Channels[0] != model.ChannelPush || offer.QuietHours == nil {
		t.Errorf("offer_received = %+v", offer)
	}

	rec = api.do(t, "PUT", "/api/preferences", "u1", `{"types":{"offer_received":{"channels":["fax"]}}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad channel: %d, want 400", rec.Code)
	}
	rec = api.do(t, "PUT", "/api/preferences", "u1", `{"types":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch: %d, want 400", rec.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	api := newTestAPI(t, nil)

	body := `{"endpoint":"https://fcm.googleapis.com/fcm/send/abc","keys":{"p256dh":"BKey","auth":"secret"},"device_info":"Firefox"}`
	rec := api.do(t, "POST", "/api/push/subscribe", "u1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(t, "POST", "/api/push/subscribe", "u1", `{"endpoint":"ftp://example.com","keys":{"p256dh":"k","auth":"a"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad endpoint: %d, want 400", rec.Code)
	}

	rec = api.do(t, "GET", "/api/push/subscriptions", "u1", "")
	if subs := decode[[]model.PushSubscription](t, rec); len(subs) != 1 {
		t.Errorf("subscriptions = %+v", subs)
	}

	rec = api.do(t, "DELETE", "/api/push/subscribe", "u1", `{"endpoint":"https://fcm.googleapis.com/fcm/send/abc"}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("unsubscribe: %d", rec.Code)
	}
	rec = api.do(t, "GET", "/api/push/subscriptions", "u1", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("after unsubscribe: %s", rec.Body)
	}

	rec = api.do(t, "GET", "/api/push/vapid-key", "u1", "")
	if got := decode[map[string]string](t, rec)["public_key"]; got != "BPublicKey" {
		t.Errorf("vapid key = %q", got)
	}
}

func TestWebhooks(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, "POST", "/api/webhooks", "u1", `{"url":"https://hooks.example.com/herald"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	created := decode[createdWebhook](t, rec)
	if len(created.Secret) != 64 {
		t.Errorf("generated secret = %q, want 64 hex chars", created.Secret)
	}

	rec = api.do(t, "GET", "/api/webhooks", "u1", "")
	if strings.Contains(rec.Body.String(), created.Secret) {
		t.Error("list response exposes the signing secret")
	}

	rec = api.do(t, "DELETE", "/api/webhooks/999", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown: %d, want 404", rec.Code)
	}
	rec = api.do(t, "DELETE", "/api/webhooks/abc", "u1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("delete bad id: %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(map[string]Check{"db": func(context.Context) error { return nil }})(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Health(map[string]Check{"redis": func(context.Context) error { return errors.New("connection refused") }})(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: %d, want 503", rec.Code)
	}
}
