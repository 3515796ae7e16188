package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Encryption string // "ssl_tls", "starttls" or "none"
}

// SMTP renders a plain text message from the template data. The template
// key travels in the X-Herald-Template header for downstream filtering.
type SMTP struct {
	config SMTPConfig
}

func NewSMTP(config SMTPConfig) *SMTP {
	return &SMTP{config: config}
}

func (s *SMTP) Send(ctx context.Context, address, templateKey string, data map[string]any) error {
	m, err := s.message(address, templateKey, data)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(s.config.Encryption)),
	}
	if s.config.Encryption == "ssl_tls" {
		opts = append(opts, mail.WithSSL())
	}
	if s.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}
	c, err := mail.NewClient(s.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTP) message(address, templateKey string, data map[string]any) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.config.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(address); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", address, err)
	}

	title, _ := data["title"].(string)
	message, _ := data["message"].(string)
	m.Subject(title)
	m.SetGenHeader(mail.Header("X-Herald-Template"), templateKey)

	var body strings.Builder
	body.WriteString(message)
	if id, ok := data["notification_id"].(string); ok && id != "" {
		body.WriteString("\n\n-- \nNotification ")
		body.WriteString(id)
	}
	m.SetBodyString(mail.TypeTextPlain, body.String())
	return m, nil
}

func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
