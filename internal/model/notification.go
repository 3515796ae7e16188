package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationType identifies the domain event a notification was raised for.
type NotificationType string

const (
	TypeNewInquiry           NotificationType = "new_inquiry"
	TypeOfferReceived        NotificationType = "offer_received"
	TypeOfferAccepted        NotificationType = "offer_accepted"
	TypeOfferDeclined        NotificationType = "offer_declined"
	TypePaymentReceived      NotificationType = "payment_received"
	TypePaymentFailed        NotificationType = "payment_failed"
	TypeVerificationApproved NotificationType = "verification_approved"
	TypeVerificationRejected NotificationType = "verification_rejected"
	TypeSecurityAlert        NotificationType = "security_alert"
	TypeSystemMaintenance    NotificationType = "system_maintenance"
	TypePromotional          NotificationType = "promotional"
)

var allTypes = []NotificationType{
	TypeNewInquiry,
	TypeOfferReceived,
	TypeOfferAccepted,
	TypeOfferDeclined,
	TypePaymentReceived,
	TypePaymentFailed,
	TypeVerificationApproved,
	TypeVerificationRejected,
	TypeSecurityAlert,
	TypeSystemMaintenance,
	TypePromotional,
}

// AllTypes returns every known notification type.
func AllTypes() []NotificationType {
	out := make([]NotificationType, len(allTypes))
	copy(out, allTypes)
	return out
}

func (t NotificationType) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority is ordered: Low < Medium < High < Urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityMedium: "medium",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a priority name ("low", "medium", "high", "urgent").
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be a string: %w", err)
	}
	if s == "" {
		*p = PriorityLow
		return nil
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Channel is one independent delivery transport.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// AllChannels lists channels in their canonical order.
var AllChannels = []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook}

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook:
		return true
	}
	return false
}

// DispatchState is the terminal state a notification reached.
type DispatchState string

const (
	StateSuppressed DispatchState = "suppressed"
	StateScheduled  DispatchState = "scheduled"
	StateDispatched DispatchState = "dispatched"
)

// NotificationRequest is the caller's input to a dispatch. It is never stored as-is.
type NotificationRequest struct {
	UserID    string           `json:"user_id" validate:"required"`
	Type      NotificationType `json:"type" validate:"required,notification_type"`
	Title     string           `json:"title" validate:"required,notblank"`
	Message   string           `json:"message" validate:"required,notblank"`
	Data      map[string]any   `json:"data,omitempty"`
	Priority  Priority         `json:"priority" validate:"priority"`
	Channels  []Channel        `json:"channels" validate:"required,min=1,dive,channel"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// Notification is the persisted record of an accepted request.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	Priority  Priority         `json:"priority"`
	Channels  []Channel        `json:"channels"`
	State     DispatchState    `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// IsExpired reports whether the notification has an expiry at or before now.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// ChannelOutcome is the result of one channel's delivery attempt.
type ChannelOutcome struct {
	Channel   Channel   `json:"channel"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Contact is what the user directory knows about a recipient.
type Contact struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Locale   string `json:"locale"`
	Timezone string `json:"timezone"`
}

// Outcome builds a ChannelOutcome stamped with the current time. A nil err
// is success.
func Outcome(ch Channel, err error) ChannelOutcome {
	o := ChannelOutcome{Channel: ch, Succeeded: err == nil, Timestamp: time.Now().UTC()}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
