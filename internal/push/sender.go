package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/herald/internal/metrics"
	"github.com/dukerupert/herald/internal/model"
)

// Registry is the subset of the subscription registry the sender needs.
type Registry interface {
	ListPush(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeletePush(ctx context.Context, endpoint string) error
}

// Payload is the JSON the service worker receives.
type Payload struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	URL     string         `json:"url"`
	Tag     string         `json:"tag,omitempty"`
}

// Sender is the push ChannelSender.
type Sender struct {
	transport Transport
	registry  Registry
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewSender(t Transport, r Registry, m *metrics.Metrics, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{transport: t, registry: r, metrics: m, logger: logger}
}

func (s *Sender) Channel() model.Channel { return model.ChannelPush }

// Send delivers to every subscription of the recipient. It succeeds when at
// least one subscription accepted the message.
func (s *Sender) Send(ctx context.Context, n *model.Notification, _ model.Contact) model.ChannelOutcome {
	subs, err := s.registry.ListPush(ctx, n.UserID)
	if err != nil {
		return model.Outcome(model.ChannelPush, fmt.Errorf("list subscriptions: %w", err))
	}
	if len(subs) == 0 {
		return model.Outcome(model.ChannelPush, errors.New("no push subscriptions"))
	}

	payload, err := json.Marshal(Payload{
		ID:      n.ID,
		Title:   n.Title,
		Message: n.Message,
		Data:    n.Data,
		URL:     TargetURL(n),
		Tag:     string(n.Type),
	})
	if err != nil {
		return model.Outcome(model.ChannelPush, fmt.Errorf("marshal payload: %w", err))
	}
	opts := Options{Urgency: UrgencyFor(n.Priority), TTL: TTLFor(n.Type)}

	var failures []string
	for _, sub := range subs {
		err := s.transport.Send(ctx, sub, payload, opts)
		if err == nil {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %v", sub.Endpoint, err))
		if errors.Is(err, ErrGone) {
			s.prune(ctx, sub)
		}
	}

	if len(failures) == len(subs) {
		return model.Outcome(model.ChannelPush, fmt.Errorf("all %d subscriptions failed: %s", len(subs), strings.Join(failures, "; ")))
	}
	o := model.Outcome(model.ChannelPush, nil)
	if len(failures) > 0 {
		o.Error = fmt.Sprintf("%d of %d subscriptions failed: %s", len(failures), len(subs), strings.Join(failures, "; "))
	}
	return o
}

func (s *Sender) prune(ctx context.Context, sub model.PushSubscription) {
	// pruning outlives the caller's deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.registry.DeletePush(ctx, sub.Endpoint); err != nil {
		s.logger.Error("prune push subscription", "endpoint", sub.Endpoint, "user_id", sub.UserID, "error", err)
		return
	}
	s.metrics.ObservePrune()
	s.logger.Info("pruned push subscription", "endpoint", sub.Endpoint, "user_id", sub.UserID)
}

// TargetURL is the page opened when the user taps the notification.
func TargetURL(n *model.Notification) string {
	if u, ok := n.Data["url"].(string); ok && u != "" {
		return u
	}
	return "/notifications/" + n.ID
}

// UrgencyFor maps priority onto the Web Push Urgency header.
func UrgencyFor(p model.Priority) Urgency {
	switch p {
	case model.PriorityLow:
		return UrgencyLow
	case model.PriorityHigh, model.PriorityUrgent:
		return UrgencyHigh
	default:
		return UrgencyNormal
	}
}

// TTLFor is how long the push service may hold an undelivered message.
// Time-sensitive marketplace events expire quickly.
func TTLFor(t model.NotificationType) time.Duration {
	switch t {
	case model.TypeNewInquiry, model.TypeOfferReceived, model.TypeOfferAccepted, model.TypeOfferDeclined:
		return time.Hour
	case model.TypePaymentReceived, model.TypePaymentFailed, model.TypeSecurityAlert:
		return 24 * time.Hour
	case model.TypeVerificationApproved, model.TypeVerificationRejected:
		return 72 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}
