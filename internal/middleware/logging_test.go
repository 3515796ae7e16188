package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var seen string
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderRequestID)
		http.Error(w, "nope", http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/notifications/x", nil))

	id := rec.Header().Get(HeaderRequestID)
	if id == "" || id != seen {
		t.Fatalf("response id %q, handler saw %q", id, seen)
	}
	line := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "request_id=" + id, "path=/api/notifications/x"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestRequestLoggerKeepsUpstreamRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(HeaderRequestID, "gw-123")
	req.Header.Set(HeaderUserID, "payments-service")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "gw-123" {
		t.Errorf("request id = %q, want gw-123", got)
	}
	line := buf.String()
	for _, want := range []string{"level=INFO", "bytes=2", "caller=payments-service"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}
