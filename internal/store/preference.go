package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/herald/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

const preferenceCols = `notification_type, enabled, channels, quiet_start, quiet_end, quiet_timezone, updated_at`

// Get returns the stored preference for one type, or ErrNotFound when the
// user never configured it.
func (s *PreferenceStore) Get(ctx context.Context, userID string, t model.NotificationType) (*model.TypePreference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceCols+` FROM notification_preferences
		 WHERE user_id = ? AND notification_type = ?`,
		userID, string(t),
	)
	_, pref, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification preference: %w", err)
	}
	return pref, nil
}

// List returns every stored preference of a user keyed by type.
func (s *PreferenceStore) List(ctx context.Context, userID string) (map[model.NotificationType]model.TypePreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceCols+` FROM notification_preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notification preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[model.NotificationType]model.TypePreference)
	for rows.Next() {
		t, pref, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		out[t] = *pref
	}
	return out, rows.Err()
}

func (s *PreferenceStore) Upsert(ctx context.Context, userID string, t model.NotificationType, pref model.TypePreference) error {
	return s.UpsertMany(ctx, userID, map[model.NotificationType]model.TypePreference{t: pref})
}

// UpsertMany writes several types of one user in a single transaction;
// either every row is saved or none is.
func (s *PreferenceStore) UpsertMany(ctx context.Context, userID string, prefs map[model.NotificationType]model.TypePreference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preference update: %w", err)
	}
	defer tx.Rollback()

	for t, pref := range prefs {
		if err := upsertPreference(ctx, tx, userID, t, pref); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preference update: %w", err)
	}
	return nil
}

func upsertPreference(ctx context.Context, tx *sql.Tx, userID string, t model.NotificationType, pref model.TypePreference) error {
	channels, err := json.Marshal(channelsOrEmpty(pref.Channels))
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	var enabled int
	if pref.Enabled {
		enabled = 1
	}
	var start, end, tz any
	if q := pref.QuietHours; q != nil {
		start, end, tz = q.Start, q.End, q.Timezone
	}
	updated := pref.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, notification_type, enabled, channels, quiet_start, quiet_end, quiet_timezone, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, notification_type) DO UPDATE SET
		   enabled = excluded.enabled,
		   channels = excluded.channels,
		   quiet_start = excluded.quiet_start,
		   quiet_end = excluded.quiet_end,
		   quiet_timezone = excluded.quiet_timezone,
		   updated_at = excluded.updated_at`,
		userID, string(t), enabled, string(channels), start, end, tz, updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert notification preference %s: %w", t, err)
	}
	return nil
}

func scanPreference(scanner interface{ Scan(...any) error }) (model.NotificationType, *model.TypePreference, error) {
	var (
		t          string
		enabled    int
		channels   string
		start, end sql.NullString
		tz         sql.NullString
		pref       model.TypePreference
	)
	if err := scanner.Scan(&t, &enabled, &channels, &start, &end, &tz, &pref.UpdatedAt); err != nil {
		return "", nil, err
	}
	pref.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(channels), &pref.Channels); err != nil {
		return "", nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if start.Valid && end.Valid {
		pref.QuietHours = &model.QuietHours{Start: start.String, End: end.String, Timezone: tz.String}
	}
	return model.NotificationType(t), &pref, nil
}
