// Package dispatch turns a notification request into per-channel deliveries
// gated by user preferences and quiet hours.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/herald/internal/metrics"
	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/preference"
	"github.com/dukerupert/herald/internal/quiethours"
	"github.com/dukerupert/herald/internal/store"
)

// ChannelSender delivers through one transport. Send must report every
// failure in the returned outcome instead of returning or panicking.
type ChannelSender interface {
	Channel() model.Channel
	Send(ctx context.Context, n *model.Notification, to model.Contact) model.ChannelOutcome
}

// Store is the notification persistence the dispatcher owns.
type Store interface {
	Create(ctx context.Context, n *model.Notification) error
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	List(ctx context.Context, userID string, opts store.ListOptions) ([]model.Notification, error)
	Count(ctx context.Context, userID string, opts store.ListOptions) (int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id, userID string) error
}

// PreferenceResolver never fails; it falls back to defaults itself.
type PreferenceResolver interface {
	Resolve(ctx context.Context, userID string, t model.NotificationType) preference.Resolution
}

// Directory looks up recipient contact details.
type Directory interface {
	Contact(ctx context.Context, userID string) (*model.Contact, error)
}

// UnreadNotifier pushes a user's unread count to connected sessions.
type UnreadNotifier interface {
	PushUnreadCount(ctx context.Context, userID string, count int) error
}

// Deps wires a Dispatcher. Unread and Metrics are optional.
type Deps struct {
	Store       Store
	Preferences PreferenceResolver
	QuietHours  *quiethours.Evaluator
	Directory   Directory
	Unread      UnreadNotifier
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Senders     []ChannelSender
	// Timeout bounds channel fan-out when the caller's context has no deadline.
	Timeout time.Duration
	// PersistTimeout bounds the record write, which ignores the caller's deadline.
	PersistTimeout time.Duration
}

// Result is returned to the caller of Send.
type Result struct {
	NotificationID string                 `json:"notification_id"`
	State          model.DispatchState    `json:"state"`
	Outcomes       []model.ChannelOutcome `json:"outcomes"`
}

type Dispatcher struct {
	store          Store
	prefs          PreferenceResolver
	quiet          *quiethours.Evaluator
	directory      Directory
	unread         UnreadNotifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
	senders        map[model.Channel]ChannelSender
	timeout        time.Duration
	persistTimeout time.Duration
	validator      *validator.Validate
	now            func() time.Time
}

func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		store:          deps.Store,
		prefs:          deps.Preferences,
		quiet:          deps.QuietHours,
		directory:      deps.Directory,
		unread:         deps.Unread,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		senders:        make(map[model.Channel]ChannelSender, len(deps.Senders)),
		timeout:        deps.Timeout,
		persistTimeout: deps.PersistTimeout,
		validator:      newValidator(),
		now:            time.Now,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.quiet == nil {
		d.quiet = quiethours.New(time.UTC)
	}
	if d.persistTimeout <= 0 {
		d.persistTimeout = 5 * time.Second
	}
	for _, s := range deps.Senders {
		d.senders[s.Channel()] = s
	}
	return d
}

// Send runs one dispatch. It fails only on an invalid request or when the
// record cannot be persisted; channel failures are reported in Outcomes.
func (d *Dispatcher) Send(ctx context.Context, req model.NotificationRequest) (*Result, error) {
	now := d.now()
	if err := d.validate(&req, now); err != nil {
		return nil, err
	}

	n := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		Priority:  req.Priority,
		Channels:  dedupe(req.Channels),
		CreatedAt: now.UTC(),
		ExpiresAt: req.ExpiresAt,
	}
	logger := d.logger.With("notification_id", n.ID, "user_id", n.UserID, "type", n.Type)

	contact := d.contact(ctx, n.UserID, logger)
	res := d.prefs.Resolve(ctx, n.UserID, n.Type)
	resolved := intersect(n.Channels, res.Channels)

	var outcomes []model.ChannelOutcome
	switch {
	case !res.Enabled:
		n.State = model.StateSuppressed
		logger.Info("notification suppressed", "reason", "type disabled")
	case len(resolved) == 0:
		n.State = model.StateSuppressed
		logger.Info("notification suppressed", "reason", "no permitted channels", "requested", n.Channels)
	case n.Priority != model.PriorityUrgent && d.inQuietHours(res.QuietHours, contact, now):
		n.State = model.StateScheduled
		logger.Info("notification deferred by quiet hours", "priority", n.Priority)
	default:
		n.State = model.StateDispatched
		outcomes = d.fanOut(ctx, n, contact, resolved, logger)
	}

	if err := d.persist(ctx, n); err != nil {
		logger.Error("persist notification", "state", n.State, "error", err)
		return nil, &PersistenceError{Err: err}
	}
	d.metrics.ObserveDispatch(n.State)

	if n.State == model.StateDispatched && slices.Contains(resolved, model.ChannelInApp) {
		d.pushUnread(ctx, n.UserID)
	}

	return &Result{NotificationID: n.ID, State: n.State, Outcomes: outcomes}, nil
}

// contact returns an empty entry when the directory has nothing; senders
// then report "no contact info".
func (d *Dispatcher) contact(ctx context.Context, userID string, logger *slog.Logger) model.Contact {
	if d.directory == nil {
		return model.Contact{UserID: userID}
	}
	c, err := d.directory.Contact(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("user directory lookup failed", "error", err)
		}
		return model.Contact{UserID: userID}
	}
	return *c
}

// inQuietHours evaluates the window in its own timezone, else the user's
// directory timezone, else the evaluator's platform default.
func (d *Dispatcher) inQuietHours(window *model.QuietHours, contact model.Contact, now time.Time) bool {
	if window == nil {
		return false
	}
	w := *window
	if w.Timezone == "" {
		w.Timezone = contact.Timezone
	}
	return d.quiet.IsQuiet(&w, now)
}

// fanOut runs every sender in its own goroutine and collects outcomes until
// all have reported or the deadline passes. Late senders write into the
// buffered channel and exit; their outcomes are dropped.
func (d *Dispatcher) fanOut(ctx context.Context, n *model.Notification, to model.Contact, channels []model.Channel, logger *slog.Logger) []model.ChannelOutcome {
	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	results := make(chan model.ChannelOutcome, len(channels))
	outcomes := make([]model.ChannelOutcome, 0, len(channels))
	launched := 0

	for _, ch := range channels {
		sender, ok := d.senders[ch]
		if !ok {
			outcomes = append(outcomes, model.Outcome(ch, fmt.Errorf("no sender registered for %s", ch)))
			continue
		}
		launched++
		go func() {
			start := time.Now()
			o := d.safeSend(ctx, sender, n, to)
			d.metrics.ObserveDelivery(o, time.Since(start))
			results <- o
		}()
	}

collect:
	for received := 0; received < launched; received++ {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
		case <-ctx.Done():
			logger.Warn("dispatch deadline reached, abandoning channels",
				"pending", launched-received, "error", ctx.Err())
			break collect
		}
	}

	for _, o := range outcomes {
		if !o.Succeeded {
			logger.Warn("channel delivery failed", "channel", o.Channel, "error", o.Error)
		}
	}

	slices.SortFunc(outcomes, func(a, b model.ChannelOutcome) int {
		return slices.Index(channels, a.Channel) - slices.Index(channels, b.Channel)
	})
	return outcomes
}

func (d *Dispatcher) safeSend(ctx context.Context, s ChannelSender, n *model.Notification, to model.Contact) (o model.ChannelOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o = model.Outcome(s.Channel(), fmt.Errorf("sender panic: %v", r))
		}
	}()
	o = s.Send(ctx, n, to)
	o.Channel = s.Channel()
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	return o
}

// persist writes the record even when the caller's context is done.
func (d *Dispatcher) persist(ctx context.Context, n *model.Notification) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.persistTimeout)
	defer cancel()
	return d.store.Create(ctx, n)
}

func (d *Dispatcher) pushUnread(ctx context.Context, userID string) {
	if d.unread == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.persistTimeout)
	defer cancel()

	count, err := d.store.CountUnread(ctx, userID)
	if err != nil {
		d.logger.Warn("count unread", "user_id", userID, "error", err)
		return
	}
	if err := d.unread.PushUnreadCount(ctx, userID, count); err != nil {
		d.logger.Warn("push unread count", "user_id", userID, "error", err)
	}
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

// intersect keeps requested channels, in request order, that are allowed.
func intersect(requested, allowed []model.Channel) []model.Channel {
	var out []model.Channel
	for _, c := range requested {
		if slices.Contains(allowed, c) {
			out = append(out, c)
		}
	}
	return out
}
