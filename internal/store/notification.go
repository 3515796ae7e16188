package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/herald/internal/model"
)

// ErrNotFound is returned when a row addressed by id (and owner) does not exist.
var ErrNotFound = errors.New("not found")

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// ListOptions filters and pages a user's notifications.
type ListOptions struct {
	Limit      int
	Offset     int
	Type       model.NotificationType
	OnlyUnread bool
	// State limits results to records that ended in this state. Empty matches any.
	State model.DispatchState
	// Now hides notifications whose expires_at is at or before it. Zero disables the check.
	Now time.Time
}

const notificationCols = `id, user_id, type, title, message, data, priority, channels, state, created_at, read_at, expires_at`

func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	data, err := marshalData(n.Data)
	if err != nil {
		return err
	}
	channels, err := json.Marshal(channelsOrEmpty(n.Channels))
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data, int(n.Priority), string(channels),
		string(n.State), n.CreatedAt.UTC(), nullTime(n.ReadAt), nullTime(n.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id, userID string) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// MarkRead sets read_at once. Marking an already-read notification leaves
// read_at untouched and is not an error; an unknown id returns ErrNotFound.
func (s *NotificationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = MAX(?, created_at)
		 WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		at.UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread inbox notification of the user and returns
// how many changed. Suppressed and scheduled records are left alone.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = MAX(?, created_at)
		 WHERE user_id = ? AND state = ? AND read_at IS NULL`,
		at.UTC(), userID, string(model.StateDispatched),
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *NotificationStore) List(ctx context.Context, userID string, opts ListOptions) ([]model.Notification, error) {
	where, args := listFilter(userID, opts)
	query := `SELECT ` + notificationCols + ` FROM notifications WHERE ` + where + ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Count returns how many notifications match opts, ignoring Limit and Offset.
func (s *NotificationStore) Count(ctx context.Context, userID string, opts ListOptions) (int, error) {
	where, args := listFilter(userID, opts)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// CountUnread counts the unexpired, unread notifications that were actually
// dispatched, which is what the user's inbox badge shows.
func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int, error) {
	return s.Count(ctx, userID, ListOptions{OnlyUnread: true, State: model.StateDispatched, Now: time.Now()})
}

func (s *NotificationStore) Delete(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes notifications that expired before the given time.
func (s *NotificationStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return result.RowsAffected()
}

func listFilter(userID string, opts ListOptions) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if opts.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.OnlyUnread {
		clauses = append(clauses, "read_at IS NULL")
	}
	if opts.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(opts.State))
	}
	if !opts.Now.IsZero() {
		clauses = append(clauses, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, opts.Now.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var (
		n         model.Notification
		typ       string
		data      string
		priority  int
		channels  string
		state     string
		readAt    sql.NullTime
		expiresAt sql.NullTime
	)
	err := scanner.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &priority, &channels,
		&state, &n.CreatedAt, &readAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	n.Type = model.NotificationType(typ)
	n.Priority = model.Priority(priority)
	n.State = model.DispatchState(state)
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(channels), &n.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		n.ExpiresAt = &t
	}
	return &n, nil
}

func marshalData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

func channelsOrEmpty(channels []model.Channel) []model.Channel {
	if channels == nil {
		return []model.Channel{}
	}
	return channels
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
