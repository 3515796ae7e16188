package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wneessen/go-mail"

	"github.com/dukerupert/herald/internal/model"
)

func TestTemplateKey(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"", "offer_received.en"},
		{"de", "offer_received.de"},
		{"de-DE", "offer_received.de"},
		{"pt_BR", "offer_received.pt"},
		{"fr-CA", "offer_received.fr"},
		{"!!garbage!!", "offer_received.en"},
	}
	for _, tt := range tests {
		if got := TemplateKey(model.TypeOfferReceived, tt.locale); got != tt.want {
			t.Errorf("TemplateKey(%q) = %q, want %q", tt.locale, got, tt.want)
		}
	}
}

type recordingTransport struct {
	address string
	key     string
	data    map[string]any
	err     error
}

func (r *recordingTransport) Send(_ context.Context, address, key string, data map[string]any) error {
	r.address, r.key, r.data = address, key, data
	return r.err
}

func testNotification() *model.Notification {
	return &model.Notification{
		ID:       "n1",
		UserID:   "u1",
		Type:     model.TypeVerificationApproved,
		Title:    "You're verified",
		Message:  "Your account is verified",
		Priority: model.PriorityMedium,
	}
}

func TestSenderUsesDirectoryAddressAndLocale(t *testing.T) {
	tr := &recordingTransport{}
	s := NewSender(tr, nil)

	o := s.Send(context.Background(), testNotification(), model.Contact{UserID: "u1", Email: "u1@example.com", Locale: "es-MX"})
	if !o.Succeeded {
		t.Fatalf("expected success, got %q", o.Error)
	}
	if o.Channel != model.ChannelEmail {
		t.Errorf("channel = %s", o.Channel)
	}
	if tr.address != "u1@example.com" {
		t.Errorf("address = %q", tr.address)
	}
	if tr.key != "verification_approved.es" {
		t.Errorf("template key = %q", tr.key)
	}
	if tr.data["title"] != "You're verified" {
		t.Errorf("template data = %v", tr.data)
	}
}

func TestSenderNoContactInfo(t *testing.T) {
	tr := &recordingTransport{}
	s := NewSender(tr, nil)

	o := s.Send(context.Background(), testNotification(), model.Contact{UserID: "u1"})
	if o.Succeeded {
		t.Fatal("expected failure without an address")
	}
	if o.Error != "no contact info" {
		t.Errorf("error = %q, want %q", o.Error, "no contact info")
	}
	if tr.address != "" {
		t.Error("transport must not be called without an address")
	}
}

func TestSenderTransportFailure(t *testing.T) {
	s := NewSender(&recordingTransport{err: errors.New("smtp down")}, nil)
	o := s.Send(context.Background(), testNotification(), model.Contact{Email: "a@example.com"})
	if o.Succeeded || o.Error == "" {
		t.Errorf("outcome = %+v", o)
	}
}

func TestDisabledTransport(t *testing.T) {
	s := NewSender(Disabled{}, nil)
	o := s.Send(context.Background(), testNotification(), model.Contact{Email: "a@example.com"})
	if o.Succeeded {
		t.Fatal("expected failure")
	}
}

func TestPostmarkSendsTemplateAlias(t *testing.T) {
	var received map[string]any
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ErrorCode": 0, "Message": "OK", "MessageID": "test-id"}`))
	}))
	defer server.Close()

	p := NewPostmark("test-token", "", "noreply@example.com")
	p.client.BaseURL = server.URL

	err := p.Send(context.Background(), "alice@example.com", "offer_received.en", map[string]any{"type": "offer_received", "title": "Offer"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received["TemplateAlias"] != "offer_received.en" {
		t.Errorf("TemplateAlias = %v", received["TemplateAlias"])
	}
	if received["To"] != "alice@example.com" {
		t.Errorf("To = %v", received["To"])
	}
	if received["Tag"] != "offer_received" {
		t.Errorf("Tag = %v", received["Tag"])
	}
}

func TestPostmarkErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ErrorCode": 1101, "Message": "Template not found"}`))
	}))
	defer server.Close()

	p := NewPostmark("test-token", "", "noreply@example.com")
	p.client.BaseURL = server.URL

	if err := p.Send(context.Background(), "alice@example.com", "missing.en", nil); err == nil {
		t.Fatal("expected error for non-zero ErrorCode")
	}
}

func TestSMTPMessage(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "localhost", Port: 2525, From: "noreply@example.com"})
	m, err := s.message("bob@example.com", "payment_failed.en", map[string]any{
		"title":           "Payment failed",
		"message":         "Your card was declined",
		"notification_id": "n9",
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if got := m.GetGenHeader(mail.HeaderSubject); len(got) != 1 || got[0] != "Payment failed" {
		t.Errorf("subject = %v", got)
	}
	if got := m.GetGenHeader(mail.Header("X-Herald-Template")); len(got) != 1 || got[0] != "payment_failed.en" {
		t.Errorf("template header = %v", got)
	}

	if _, err := s.message("not an address", "k", nil); err == nil {
		t.Error("expected error for invalid recipient")
	}
}
