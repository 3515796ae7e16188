package realtime

import (
	"context"
	"fmt"

	"github.com/dukerupert/herald/internal/model"
)

// Sender is the in-app ChannelSender. Delivery is best effort: success
// means the event was handed to the user's topic, not that a session saw it.
type Sender struct {
	publisher Publisher
}

func NewSender(p Publisher) *Sender {
	return &Sender{publisher: p}
}

func (s *Sender) Channel() model.Channel { return model.ChannelInApp }

func (s *Sender) Send(ctx context.Context, n *model.Notification, _ model.Contact) model.ChannelOutcome {
	if err := s.publisher.Publish(ctx, n.UserID, NotificationMessage(n)); err != nil {
		return model.Outcome(model.ChannelInApp, fmt.Errorf("publish: %w", err))
	}
	return model.Outcome(model.ChannelInApp, nil)
}

// PushUnreadCount publishes the user's current unread count.
func (s *Sender) PushUnreadCount(ctx context.Context, userID string, count int) error {
	return s.publisher.Publish(ctx, userID, UnreadCountMessage(count))
}
