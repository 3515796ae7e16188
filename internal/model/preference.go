package model

import "time"

// QuietHours is a local wall-clock window, e.g. 22:00-07:00 in Europe/Berlin.
// Start > End means the window wraps midnight.
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

type TypePreference struct {
	Enabled    bool        `json:"enabled"`
	Channels   []Channel   `json:"channels"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at,omitempty"`
}

type UserPreferences struct {
	UserID string                              `json:"user_id"`
	Types  map[NotificationType]TypePreference `json:"types"`
}

// DefaultChannels are permitted when a user has no stored preference for a type.
func DefaultChannels() []Channel {
	return []Channel{ChannelInApp, ChannelEmail}
}

// DefaultTypePreference is the system default applied to unconfigured types.
func DefaultTypePreference() TypePreference {
	return TypePreference{
		Enabled:  true,
		Channels: DefaultChannels(),
	}
}
