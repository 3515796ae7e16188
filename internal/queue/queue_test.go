package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/herald/internal/dispatch"
	"github.com/dukerupert/herald/internal/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var errInvalid = errors.New("invalid")

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []model.NotificationRequest
	block chan struct{}
	panic bool
}

func (f *fakeDispatcher) Validate(req model.NotificationRequest) error {
	if req.UserID == "" {
		return errInvalid
	}
	return nil
}

func (f *fakeDispatcher) Send(_ context.Context, req model.NotificationRequest) (*dispatch.Result, error) {
	if f.block != nil {
		<-f.block
	}
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return &dispatch.Result{NotificationID: "n-" + req.UserID, State: model.StateDispatched}, nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func req(userID string) model.NotificationRequest {
	return model.NotificationRequest{
		UserID:   userID,
		Type:     model.TypeNewInquiry,
		Title:    "Question about your listing",
		Message:  "Is it still available?",
		Channels: []model.Channel{model.ChannelInApp},
	}
}

func TestQueueDispatchesAll(t *testing.T) {
	d := &fakeDispatcher{}
	q := New(d, 3, 10, nil, discard)
	q.Start(context.Background())

	for _, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		if err := q.Enqueue(req(u)); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}
	q.Close()

	if got := d.count(); got != 5 {
		t.Errorf("dispatched %d, want 5", got)
	}
}

func TestQueueRejectsInvalid(t *testing.T) {
	d := &fakeDispatcher{}
	q := New(d, 1, 1, nil, discard)
	q.Start(context.Background())
	defer q.Close()

	if err := q.Enqueue(req("")); !errors.Is(err, errInvalid) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestQueueFull(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	q := New(d, 1, 1, nil, discard)
	q.Start(context.Background())

	// first request occupies the worker, second fills the buffer
	if err := q.Enqueue(req("u1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := q.Enqueue(req("u2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(req("u3")); !errors.Is(err, ErrFull) {
		t.Errorf("err = %v, want ErrFull", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Submit(ctx, req("u4")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("submit err = %v, want deadline exceeded", err)
	}

	close(d.block)
	q.Close()
	if got := d.count(); got != 2 {
		t.Errorf("dispatched %d, want 2", got)
	}
	if err := q.Enqueue(req("u5")); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close: err = %v, want ErrClosed", err)
	}
}

func TestQueueSurvivesPanic(t *testing.T) {
	d := &fakeDispatcher{panic: true}
	q := New(d, 1, 4, nil, discard)
	q.Start(context.Background())

	for _, u := range []string{"u1", "u2"} {
		if err := q.Enqueue(req(u)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	// Close returns only if the worker kept draining after the first panic.
	q.Close()
}

func TestConsumerHandle(t *testing.T) {
	d := &fakeDispatcher{}
	q := New(d, 1, 4, nil, discard)
	q.Start(context.Background())
	c := NewConsumer(nil, "", q, discard)

	if c.key != DefaultKey {
		t.Errorf("key = %q, want %q", c.key, DefaultKey)
	}
	payload := []byte(`{"user_id":"u1","type":"new_inquiry","title":"Hi","message":"Still available?","priority":"high","channels":["in_app"]}`)
	if err := c.handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := c.handle(context.Background(), []byte(`{not json`)); err == nil {
		t.Error("expected decode error")
	}
	if err := c.handle(context.Background(), []byte(`{"title":"no user"}`)); !errors.Is(err, errInvalid) {
		t.Errorf("err = %v, want validation error", err)
	}

	q.Close()
	if d.count() != 1 {
		t.Fatalf("dispatched %d, want 1", d.count())
	}
	if d.sent[0].Priority != model.PriorityHigh {
		t.Errorf("priority = %v, want high", d.sent[0].Priority)
	}
}
