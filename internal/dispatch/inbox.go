package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a 1-based page of a user's notifications.
type Page struct {
	Number int
	Size   int
}

// maxPageNumber keeps the row offset from overflowing.
const maxPageNumber = math.MaxInt32 / MaxPageSize

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Number > maxPageNumber {
		p.Number = maxPageNumber
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// ListResult is one page plus the totals a client needs for its badge.
type ListResult struct {
	Notifications []model.Notification `json:"notifications"`
	Total         int                  `json:"total"`
	Unread        int                  `json:"unread"`
	Page          int                  `json:"page"`
	PageSize      int                  `json:"page_size"`
}

// ListNotifications returns the user's unexpired inbox, newest first,
// optionally limited to one type. Only dispatched notifications are listed;
// suppressed and scheduled records stay in storage for history.
func (d *Dispatcher) ListNotifications(ctx context.Context, userID string, page Page, typeFilter model.NotificationType) (*ListResult, error) {
	if typeFilter != "" && !typeFilter.Valid() {
		return nil, &ValidationError{Fields: []FieldError{{Field: "type", Reason: "unknown notification type"}}}
	}
	page = page.normalize()
	opts := store.ListOptions{
		Limit:  page.Size,
		Offset: (page.Number - 1) * page.Size,
		Type:   typeFilter,
		State:  model.StateDispatched,
		Now:    d.now(),
	}

	items, err := d.store.List(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	total, err := d.store.Count(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	unread, err := d.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	if items == nil {
		items = []model.Notification{}
	}
	return &ListResult{
		Notifications: items,
		Total:         total,
		Unread:        unread,
		Page:          page.Number,
		PageSize:      page.Size,
	}, nil
}

// MarkAsRead is idempotent: repeating it keeps the first read time.
func (d *Dispatcher) MarkAsRead(ctx context.Context, id, userID string) error {
	if err := d.store.MarkRead(ctx, id, userID, d.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("mark read: %w", err)
	}
	d.pushUnread(ctx, userID)
	return nil
}

// MarkAllRead returns how many notifications changed.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := d.store.MarkAllRead(ctx, userID, d.now())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	if n > 0 {
		d.pushUnread(ctx, userID)
	}
	return n, nil
}

func (d *Dispatcher) Delete(ctx context.Context, id, userID string) error {
	if err := d.store.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete notification: %w", err)
	}
	d.pushUnread(ctx, userID)
	return nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	return d.store.CountUnread(ctx, userID)
}
