// Package preference resolves which channels a user permits for a
// notification type, falling back to system defaults.
package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/quiethours"
	"github.com/dukerupert/herald/internal/store"
)

// Store is the persistence the resolver reads from. Get returns
// store.ErrNotFound for types the user never configured.
type Store interface {
	Get(ctx context.Context, userID string, t model.NotificationType) (*model.TypePreference, error)
	List(ctx context.Context, userID string) (map[model.NotificationType]model.TypePreference, error)
	UpsertMany(ctx context.Context, userID string, prefs map[model.NotificationType]model.TypePreference) error
}

// Resolution is the effective preference for one dispatch.
type Resolution struct {
	Enabled    bool
	Channels   []model.Channel
	QuietHours *model.QuietHours
	// Default is true when no stored preference applied.
	Default bool
}

// Allows reports whether the channel is in the permitted set.
func (r Resolution) Allows(c model.Channel) bool {
	return slices.Contains(r.Channels, c)
}

// Patch changes one type's preference. Nil fields keep their current value.
type Patch struct {
	Enabled         *bool             `json:"enabled,omitempty"`
	Channels        *[]model.Channel  `json:"channels,omitempty"`
	QuietHours      *model.QuietHours `json:"quiet_hours,omitempty"`
	ClearQuietHours bool              `json:"clear_quiet_hours,omitempty"`
}

// ValidationError lists every problem found in an update.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid preferences: " + strings.Join(e.Problems, "; ")
}

type Resolver struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(s Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, logger: logger, now: time.Now}
}

// Resolve never fails. A missing row or an unreachable store yields the
// system default.
func (r *Resolver) Resolve(ctx context.Context, userID string, t model.NotificationType) Resolution {
	pref, err := r.store.Get(ctx, userID, t)
	if errors.Is(err, store.ErrNotFound) {
		return defaultResolution()
	}
	if err != nil {
		r.logger.Warn("preference lookup degraded, using defaults",
			"user_id", userID, "type", t, "error", err)
		return defaultResolution()
	}
	return Resolution{
		Enabled:    pref.Enabled,
		Channels:   slices.Clone(pref.Channels),
		QuietHours: pref.QuietHours,
	}
}

func defaultResolution() Resolution {
	d := model.DefaultTypePreference()
	return Resolution{Enabled: d.Enabled, Channels: d.Channels, Default: true}
}

// Get returns the effective preference of every known type.
func (r *Resolver) Get(ctx context.Context, userID string) (*model.UserPreferences, error) {
	stored, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	prefs := &model.UserPreferences{
		UserID: userID,
		Types:  make(map[model.NotificationType]model.TypePreference, len(model.AllTypes())),
	}
	for _, t := range model.AllTypes() {
		if p, ok := stored[t]; ok {
			prefs.Types[t] = p
			continue
		}
		prefs.Types[t] = model.DefaultTypePreference()
	}
	return prefs, nil
}

// Update applies a partial change. The whole patch is validated before
// anything is written, and the changed types are saved together.
func (r *Resolver) Update(ctx context.Context, userID string, patch map[model.NotificationType]Patch) (*model.UserPreferences, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	current, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	changed := make(map[model.NotificationType]model.TypePreference, len(patch))
	for t, p := range patch {
		pref := current.Types[t]
		if p.Enabled != nil {
			pref.Enabled = *p.Enabled
		}
		if p.Channels != nil {
			pref.Channels = dedupe(*p.Channels)
		}
		if p.ClearQuietHours {
			pref.QuietHours = nil
		} else if p.QuietHours != nil {
			q := *p.QuietHours
			pref.QuietHours = &q
		}
		pref.UpdatedAt = now
		changed[t] = pref
	}
	if err := r.store.UpsertMany(ctx, userID, changed); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	for t, pref := range changed {
		current.Types[t] = pref
	}
	return current, nil
}

func validatePatch(patch map[model.NotificationType]Patch) error {
	var problems []string
	for t, p := range patch {
		if !t.Valid() {
			problems = append(problems, fmt.Sprintf("unknown notification type %q", t))
			continue
		}
		if p.Channels != nil {
			for _, c := range *p.Channels {
				if !c.Valid() {
					problems = append(problems, fmt.Sprintf("%s: unknown channel %q", t, c))
				}
			}
		}
		if p.QuietHours != nil && !p.ClearQuietHours {
			if err := quiethours.Validate(*p.QuietHours); err != nil {
				problems = append(problems, fmt.Sprintf("%s: quiet hours %v", t, err))
			}
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}

func dedupe(channels []model.Channel) []model.Channel {
	out := make([]model.Channel, 0, len(channels))
	for _, c := range channels {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
