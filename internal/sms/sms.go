// Package sms sends short text notifications through a Twilio-compatible
// REST gateway.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/herald/internal/model"
)

// MaxLength is the longest body a gateway accepts for one message.
const MaxLength = 1600

// ErrNotConfigured is returned when no gateway credentials were provided.
var ErrNotConfigured = errors.New("sms not configured")

// Transport delivers one text to one number.
type Transport interface {
	Send(ctx context.Context, number, text string) error
}

// Text formats the message body, truncated to MaxLength runes.
func Text(n *model.Notification) string {
	text := n.Title + ": " + n.Message
	if utf8.RuneCountInString(text) <= MaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxLength-1]) + "…"
}

// Sender is the SMS ChannelSender.
type Sender struct {
	transport Transport
	logger    *slog.Logger
}

func NewSender(t Transport, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{transport: t, logger: logger}
}

func (s *Sender) Channel() model.Channel { return model.ChannelSMS }

func (s *Sender) Send(ctx context.Context, n *model.Notification, to model.Contact) model.ChannelOutcome {
	if to.Phone == "" {
		return model.Outcome(model.ChannelSMS, errors.New("no contact info"))
	}
	if err := s.transport.Send(ctx, to.Phone, Text(n)); err != nil {
		return model.Outcome(model.ChannelSMS, err)
	}
	return model.Outcome(model.ChannelSMS, nil)
}

// Gateway is a Twilio-style Messages API client.
type Gateway struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

func NewGateway(baseURL, accountSID, authToken, from string) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured returns true if credentials are set.
func (g *Gateway) Configured() bool {
	return g.accountSID != "" && g.authToken != ""
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *Gateway) Send(ctx context.Context, number, text string) error {
	if !g.Configured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", number)
	form.Set("From", g.from)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", g.baseURL, url.PathEscape(g.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(g.accountSID, g.authToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ge gatewayError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if json.Unmarshal(body, &ge) == nil && ge.Message != "" {
			return fmt.Errorf("sms gateway error %d: %s", ge.Code, ge.Message)
		}
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}
