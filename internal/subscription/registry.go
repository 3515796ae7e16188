// Package subscription manages the delivery targets users register: Web
// Push subscriptions and webhook endpoints.
package subscription

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/store"
)

// ValidationError reports a rejected registration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Registry struct {
	push     *store.PushStore
	webhooks *store.WebhookStore
}

func NewRegistry(push *store.PushStore, webhooks *store.WebhookStore) *Registry {
	return &Registry{push: push, webhooks: webhooks}
}

func (r *Registry) ListPush(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	return r.push.ListByUser(ctx, userID)
}

// DeletePush removes a subscription by endpoint. Deleting an endpoint that
// is already gone is not an error, so concurrent pruning is safe.
func (r *Registry) DeletePush(ctx context.Context, endpoint string) error {
	return r.push.DeleteByEndpoint(ctx, endpoint)
}

// SubscribeToPush stores a browser subscription, replacing any previous
// registration of the same endpoint.
func (r *Registry) SubscribeToPush(ctx context.Context, userID string, sub model.PushSubscription) (*model.PushSubscription, error) {
	if err := checkURL("endpoint", sub.Endpoint); err != nil {
		return nil, err
	}
	if sub.P256dhKey == "" {
		return nil, &ValidationError{Field: "keys.p256dh", Reason: "required"}
	}
	if sub.AuthKey == "" {
		return nil, &ValidationError{Field: "keys.auth", Reason: "required"}
	}
	sub.UserID = userID
	return r.push.Upsert(ctx, sub)
}

// UnsubscribeFromPush is idempotent and only touches the caller's own endpoint.
func (r *Registry) UnsubscribeFromPush(ctx context.Context, userID, endpoint string) error {
	return r.push.DeleteForUser(ctx, userID, endpoint)
}

func (r *Registry) ListWebhooks(ctx context.Context, userID string) ([]model.WebhookEndpoint, error) {
	return r.webhooks.ListByUser(ctx, userID)
}

// AddWebhook registers an endpoint. An empty secret is replaced by a
// random one; the caller must read it from the returned endpoint.
func (r *Registry) AddWebhook(ctx context.Context, userID, rawURL, secret string) (*model.WebhookEndpoint, error) {
	if err := checkURL("url", rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = s
	}
	return r.webhooks.Create(ctx, model.WebhookEndpoint{UserID: userID, URL: rawURL, Secret: secret})
}

// RemoveWebhook returns store.ErrNotFound when the endpoint is not the caller's.
func (r *Registry) RemoveWebhook(ctx context.Context, userID string, id int64) error {
	return r.webhooks.Delete(ctx, id, userID)
}

// GenerateSecret returns 32 random bytes, hex-encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func checkURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Field: field, Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: field, Reason: "must be an absolute URL"}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return &ValidationError{Field: field, Reason: "scheme must be http or https"}
	}
	return nil
}
