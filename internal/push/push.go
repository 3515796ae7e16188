// Package push delivers Web Push messages with VAPID and prunes
// subscriptions the push service reports as gone.
package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/herald/internal/model"
)

// ErrGone is returned when the push service no longer knows the
// subscription (404 or 410). The subscription should be deleted.
var ErrGone = errors.New("push subscription gone")

// ErrNotConfigured is returned when no VAPID keys were provided.
var ErrNotConfigured = errors.New("push not configured")

// Urgency mirrors the Web Push Urgency header.
type Urgency string

const (
	UrgencyVeryLow Urgency = "very-low"
	UrgencyLow     Urgency = "low"
	UrgencyNormal  Urgency = "normal"
	UrgencyHigh    Urgency = "high"
)

// Options are the per-message delivery hints.
type Options struct {
	Urgency Urgency
	TTL     time.Duration
}

// Transport sends one encrypted message to one subscription.
type Transport interface {
	Send(ctx context.Context, sub model.PushSubscription, payload []byte, opts Options) error
}

// WebPush is the Transport backed by webpush-go.
type WebPush struct {
	publicKey  string
	privateKey string
	subscriber string
	client     *http.Client
}

// NewWebPush creates a transport with VAPID keys. subscriber is the contact
// URI sent to push services, e.g. "mailto:ops@example.com".
func NewWebPush(publicKey, privateKey, subscriber string, client *http.Client) *WebPush {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPush{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		client:     client,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (w *WebPush) VAPIDPublicKey() string {
	return w.publicKey
}

func (w *WebPush) Send(ctx context.Context, sub model.PushSubscription, payload []byte, opts Options) error {
	if w.publicKey == "" || w.privateKey == "" {
		return ErrNotConfigured
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		Subscriber:      w.subscriber,
		TTL:             int(opts.TTL.Seconds()),
		Urgency:         webpush.Urgency(opts.Urgency),
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)

	d := make([]byte, 32)
	key.D.FillBytes(d)
	privateKey = base64.RawURLEncoding.EncodeToString(d)

	return publicKey, privateKey, nil
}
