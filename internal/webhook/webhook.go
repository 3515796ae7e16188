// Package webhook posts signed notification envelopes to user-registered
// HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/herald/internal/model"
)

const (
	HeaderEvent     = "X-Event"
	HeaderSignature = "X-Signature"
)

// ErrNon2xx is wrapped when an endpoint answers outside 200-299.
var ErrNon2xx = errors.New("webhook endpoint returned non-2xx status")

// Envelope is the JSON body delivered to every endpoint.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      model.NotificationType `json:"type"`
	UserID    string                 `json:"userID"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]any         `json:"data"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NewEnvelope builds the wire envelope of a notification.
func NewEnvelope(n *model.Notification) Envelope {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		ID:        n.ID,
		Type:      n.Type,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

// Sign returns the hex-encoded HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received X-Signature in constant time.
func Verify(body []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Registry lists a user's endpoints.
type Registry interface {
	ListWebhooks(ctx context.Context, userID string) ([]model.WebhookEndpoint, error)
}

// Sender is the webhook ChannelSender.
type Sender struct {
	registry Registry
	client   *http.Client
	logger   *slog.Logger
}

// NewSender creates a sender whose per-endpoint requests time out after
// timeout. Redirects are not followed; a 3xx answer is a failed delivery.
func NewSender(r Registry, timeout time.Duration, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		registry: r,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (s *Sender) Channel() model.Channel { return model.ChannelWebhook }

// Send posts to every endpoint of the recipient and succeeds when at least
// one endpoint accepted.
func (s *Sender) Send(ctx context.Context, n *model.Notification, _ model.Contact) model.ChannelOutcome {
	endpoints, err := s.registry.ListWebhooks(ctx, n.UserID)
	if err != nil {
		return model.Outcome(model.ChannelWebhook, fmt.Errorf("list endpoints: %w", err))
	}
	if len(endpoints) == 0 {
		return model.Outcome(model.ChannelWebhook, errors.New("no webhook endpoints"))
	}

	body, err := json.Marshal(NewEnvelope(n))
	if err != nil {
		return model.Outcome(model.ChannelWebhook, fmt.Errorf("marshal envelope: %w", err))
	}

	var failures []string
	for _, ep := range endpoints {
		if err := s.post(ctx, ep, string(n.Type), body); err != nil {
			s.logger.Warn("webhook delivery failed", "endpoint_id", ep.ID, "url", ep.URL, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", ep.URL, err))
		}
	}

	if len(failures) == len(endpoints) {
		return model.Outcome(model.ChannelWebhook, fmt.Errorf("all %d endpoints failed: %s", len(endpoints), strings.Join(failures, "; ")))
	}
	o := model.Outcome(model.ChannelWebhook, nil)
	if len(failures) > 0 {
		o.Error = fmt.Sprintf("%d of %d endpoints failed: %s", len(failures), len(endpoints), strings.Join(failures, "; "))
	}
	return o
}

func (s *Sender) post(ctx context.Context, ep model.WebhookEndpoint, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "herald-webhooks/1.0")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderSignature, Sign(body, ep.Secret))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrNon2xx, resp.StatusCode)
	}
	return nil
}
