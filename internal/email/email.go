// Package email delivers notifications by templated email through Postmark
// or plain SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"

	"github.com/dukerupert/herald/internal/model"
)

// ErrNotConfigured is returned by the transport used when no provider is set.
var ErrNotConfigured = errors.New("email not configured")

// Transport delivers one templated message.
type Transport interface {
	Send(ctx context.Context, address, templateKey string, data map[string]any) error
}

// DefaultLanguage is used when the recipient's locale is empty or unparsable.
const DefaultLanguage = "en"

// TemplateKey derives "<type>.<lang>" from the recipient's locale.
func TemplateKey(t model.NotificationType, locale string) string {
	return string(t) + "." + baseLanguage(locale)
}

func baseLanguage(locale string) string {
	if locale == "" {
		return DefaultLanguage
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return DefaultLanguage
	}
	base, conf := tag.Base()
	if conf == language.No || base.String() == "und" {
		return DefaultLanguage
	}
	return base.String()
}

// TemplateData is the model handed to every template.
func TemplateData(n *model.Notification) map[string]any {
	return map[string]any{
		"notification_id": n.ID,
		"type":            string(n.Type),
		"title":           n.Title,
		"message":         n.Message,
		"priority":        n.Priority.String(),
		"data":            n.Data,
	}
}

// Sender is the email ChannelSender.
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

func (s *Sender) Channel() model.Channel { return model.ChannelEmail }

func (s *Sender) Send(ctx context.Context, n *model.Notification, to model.Contact) model.ChannelOutcome {
	if to.Email == "" {
		return model.Outcome(model.ChannelEmail, errors.New("no contact info"))
	}
	key := TemplateKey(n.Type, to.Locale)
	if err := s.transport.Send(ctx, to.Email, key, TemplateData(n)); err != nil {
		return model.Outcome(model.ChannelEmail, fmt.Errorf("send %s: %w", key, err))
	}
	s.logger.Debug("email sent", "notification_id", n.ID, "template", key)
	return model.Outcome(model.ChannelEmail, nil)
}

// Disabled is the Transport used when no provider is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, string, string, map[string]any) error {
	return ErrNotConfigured
}
