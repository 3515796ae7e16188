package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukerupert/herald/internal/database"
	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/store"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRegistry(store.NewPushStore(db), store.NewWebhookStore(db))
}

func pushSub(endpoint string) model.PushSubscription {
	return model.PushSubscription{Endpoint: endpoint, P256dhKey: "p256", AuthKey: "auth", DeviceInfo: "Firefox"}
}

func TestSubscribeToPushValidation(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sub  model.PushSubscription
	}{
		{"missing endpoint", model.PushSubscription{P256dhKey: "k", AuthKey: "a"}},
		{"relative endpoint", model.PushSubscription{Endpoint: "/push", P256dhKey: "k", AuthKey: "a"}},
		{"missing p256dh", model.PushSubscription{Endpoint: "https://push.example.com/x", AuthKey: "a"}},
		{"missing auth", model.PushSubscription{Endpoint: "https://push.example.com/x", P256dhKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.SubscribeToPush(ctx, "u1", tt.sub)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.SubscribeToPush(ctx, "u1", pushSub("https://push.example.com/a")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subs, _ := r.ListPush(ctx, "u1")
	if len(subs) != 1 || subs[0].UserID != "u1" {
		t.Fatalf("subs = %v", subs)
	}

	if err := r.UnsubscribeFromPush(ctx, "u1", "https://push.example.com/a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := r.UnsubscribeFromPush(ctx, "u1", "https://push.example.com/a"); err != nil {
		t.Errorf("repeat unsubscribe should be a no-op, got %v", err)
	}
	subs, _ = r.ListPush(ctx, "u1")
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}

func TestDeletePushConcurrent(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	r.SubscribeToPush(ctx, "u1", pushSub("https://push.example.com/stale"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.DeletePush(ctx, "https://push.example.com/stale")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent delete: %v", err)
		}
	}
	subs, _ := r.ListPush(ctx, "u1")
	if len(subs) != 0 {
		t.Errorf("expected subscription removed, got %d", len(subs))
	}
}

func TestAddWebhook(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	ep, err := r.AddWebhook(ctx, "u1", "https://hooks.example.com/herald", "")
	if err != nil {
		t.Fatalf("add webhook: %v", err)
	}
	if len(ep.Secret) != 64 {
		t.Errorf("generated secret length = %d, want 64", len(ep.Secret))
	}

	ep2, err := r.AddWebhook(ctx, "u1", "http://hooks.example.com/other", "given")
	if err != nil {
		t.Fatalf("add webhook: %v", err)
	}
	if ep2.Secret != "given" {
		t.Errorf("secret = %q, want caller's secret", ep2.Secret)
	}

	for _, bad := range []string{"", "ftp://hooks.example.com", "hooks.example.com/path", "https://"} {
		if _, err := r.AddWebhook(ctx, "u1", bad, ""); err == nil {
			t.Errorf("AddWebhook(%q) should fail", bad)
		}
	}

	list, _ := r.ListWebhooks(ctx, "u1")
	if len(list) != 2 {
		t.Errorf("expected 2 webhooks, got %d", len(list))
	}
}

func TestRemoveWebhook(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	ep, _ := r.AddWebhook(ctx, "u1", "https://hooks.example.com/a", "s")

	if err := r.RemoveWebhook(ctx, "u2", ep.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("remove by other user: expected ErrNotFound, got %v", err)
	}
	if err := r.RemoveWebhook(ctx, "u1", ep.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
