package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/herald/internal/model"
)

// UserStore is the local user directory: contact details, locale and timezone.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, email, phone, locale, timezone`

func scanContact(scanner interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	if err := scanner.Scan(&c.UserID, &c.Email, &c.Phone, &c.Locale, &c.Timezone); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *UserStore) Upsert(ctx context.Context, c model.Contact) (*model.Contact, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userCols+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email,
		   phone = excluded.phone,
		   locale = excluded.locale,
		   timezone = excluded.timezone,
		   updated_at = CURRENT_TIMESTAMP`,
		c.UserID, c.Email, c.Phone, c.Locale, c.Timezone,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.Contact(ctx, c.UserID)
}

// Contact returns the directory entry for userID or ErrNotFound.
func (s *UserStore) Contact(ctx context.Context, userID string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, userID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return c, nil
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
