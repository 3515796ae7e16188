package email

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

// Postmark sends through Postmark templates; the template alias is the
// template key.
type Postmark struct {
	client *postmark.Client
	from   string
}

func NewPostmark(serverToken, accountToken, from string) *Postmark {
	return &Postmark{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}
}

func (p *Postmark) Send(ctx context.Context, address, templateKey string, data map[string]any) error {
	resp, err := p.client.SendTemplatedEmail(ctx, postmark.TemplatedEmail{
		TemplateAlias: templateKey,
		TemplateModel: data,
		From:          p.from,
		To:            address,
		Tag:           tagFor(data),
		TrackOpens:    true,
	})
	if err != nil {
		return fmt.Errorf("postmark: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

func tagFor(data map[string]any) string {
	t, _ := data["type"].(string)
	return t
}
