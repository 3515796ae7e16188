package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/herald/internal/model"
)

type WebhookStore struct {
	db *sql.DB
}

func NewWebhookStore(db *sql.DB) *WebhookStore {
	return &WebhookStore{db: db}
}

const webhookCols = `id, user_id, url, secret, created_at`

// Create registers an endpoint. Registering the same URL twice for a user
// rotates its secret and keeps the original id.
func (s *WebhookStore) Create(ctx context.Context, ep model.WebhookEndpoint) (*model.WebhookEndpoint, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_endpoints (user_id, url, secret) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, url) DO UPDATE SET secret = excluded.secret`,
		ep.UserID, ep.URL, ep.Secret,
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook endpoint: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookCols+` FROM webhook_endpoints WHERE user_id = ? AND url = ?`, ep.UserID, ep.URL)
	out, err := scanWebhook(row)
	if err != nil {
		return nil, fmt.Errorf("get webhook endpoint: %w", err)
	}
	return out, nil
}

func (s *WebhookStore) ListByUser(ctx context.Context, userID string) ([]model.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookCols+` FROM webhook_endpoints WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookEndpoint
	for rows.Next() {
		ep, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

func (s *WebhookStore) Delete(ctx context.Context, id int64, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWebhook(scanner interface{ Scan(...any) error }) (*model.WebhookEndpoint, error) {
	var ep model.WebhookEndpoint
	if err := scanner.Scan(&ep.ID, &ep.UserID, &ep.URL, &ep.Secret, &ep.CreatedAt); err != nil {
		return nil, err
	}
	return &ep, nil
}
