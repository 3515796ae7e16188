package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/herald/internal/config"
	"github.com/dukerupert/herald/internal/dispatch"
	"github.com/dukerupert/herald/internal/email"
	"github.com/dukerupert/herald/internal/handler"
	"github.com/dukerupert/herald/internal/maintenance"
	"github.com/dukerupert/herald/internal/metrics"
	"github.com/dukerupert/herald/internal/middleware"
	"github.com/dukerupert/herald/internal/preference"
	"github.com/dukerupert/herald/internal/push"
	"github.com/dukerupert/herald/internal/queue"
	"github.com/dukerupert/herald/internal/quiethours"
	"github.com/dukerupert/herald/internal/realtime"
	"github.com/dukerupert/herald/internal/redisconn"
	"github.com/dukerupert/herald/internal/sms"
	"github.com/dukerupert/herald/internal/store"
	"github.com/dukerupert/herald/internal/subscription"
	"github.com/dukerupert/herald/internal/webhook"
)

type Server struct {
	cfg           *config.Config
	hub           *realtime.Hub
	bridge        *realtime.Bridge
	dispatcher    *dispatch.Dispatcher
	queue         *queue.Queue
	consumer      *queue.Consumer
	maintenance   *maintenance.Scheduler
	metrics       *metrics.Metrics
	rateLimiter   *middleware.RateLimiter
	notificationH *handler.NotificationHandler
	preferenceH   *handler.PreferenceHandler
	pushH         *handler.PushHandler
	webhookH      *handler.WebhookHandler
	checks        map[string]handler.Check
	logger        *slog.Logger
}

// New wires stores, channel senders and the dispatcher. rdb may be nil, in
// which case in-app events stay on this instance and no queue consumer runs.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, logger *slog.Logger) (*Server, error) {
	m := metrics.New()
	hub := realtime.NewHub(logger.With("component", "realtime"))

	notificationStore := store.NewNotificationStore(db)
	userStore := store.NewUserStore(db)
	prefStore := preference.NewCachedStore(store.NewPreferenceStore(db), cfg.PreferenceTTL)
	registry := subscription.NewRegistry(store.NewPushStore(db), store.NewWebhookStore(db))
	resolver := preference.NewResolver(prefStore, logger.With("component", "preference"))

	var publisher realtime.Publisher = hub
	var bridge *realtime.Bridge
	if rdb != nil {
		publisher = realtime.NewRedisPublisher(rdb)
		bridge = realtime.NewBridge(rdb, hub, logger.With("component", "realtime_bridge"))
	}
	inApp := realtime.NewSender(publisher)

	webPush := push.NewWebPush(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, nil)
	if !cfg.PushConfigured() {
		logger.Warn("VAPID keys not set, push deliveries will fail")
	}

	senders := []dispatch.ChannelSender{
		inApp,
		email.NewSender(emailTransport(cfg, logger), logger.With("component", "email")),
		sms.NewSender(sms.NewGateway(cfg.SMSBaseURL, cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFrom), logger.With("component", "sms")),
		push.NewSender(webPush, registry, m, logger.With("component", "push")),
		webhook.NewSender(registry, cfg.WebhookTimeout, logger.With("component", "webhook")),
	}

	d := dispatch.New(dispatch.Deps{
		Store:          notificationStore,
		Preferences:    resolver,
		QuietHours:     quiethours.New(cfg.Location()),
		Directory:      userStore,
		Unread:         inApp,
		Metrics:        m,
		Logger:         logger.With("component", "dispatch"),
		Senders:        senders,
		Timeout:        cfg.DispatchTimeout,
		PersistTimeout: cfg.PersistTimeout,
	})

	q := queue.New(d, cfg.Workers, cfg.QueueSize, m, logger.With("component", "queue"))
	var consumer *queue.Consumer
	if rdb != nil {
		consumer = queue.NewConsumer(rdb, cfg.RedisQueueKey, q, logger.With("component", "queue_consumer"))
	}

	sweeper, err := maintenance.New(notificationStore, cfg.MaintenanceWindow, m, logger.With("component", "maintenance"))
	if err != nil {
		return nil, err
	}

	checks := map[string]handler.Check{"database": db.PingContext}
	if rdb != nil {
		checks["redis"] = redisconn.Healthcheck(rdb)
	}

	return &Server{
		cfg:           cfg,
		hub:           hub,
		bridge:        bridge,
		dispatcher:    d,
		queue:         q,
		consumer:      consumer,
		maintenance:   sweeper,
		metrics:       m,
		rateLimiter:   middleware.NewRateLimiter(float64(cfg.SendRate), cfg.SendBurst),
		notificationH: handler.NewNotificationHandler(d, q, logger.With("component", "notifications")),
		preferenceH:   handler.NewPreferenceHandler(resolver, logger.With("component", "preferences")),
		pushH:         handler.NewPushHandler(registry, webPush.VAPIDPublicKey(), logger.With("component", "push_handler")),
		webhookH:      handler.NewWebhookHandler(registry, logger.With("component", "webhook_handler")),
		checks:        checks,
		logger:        logger,
	}, nil
}

func emailTransport(cfg *config.Config, logger *slog.Logger) email.Transport {
	switch cfg.EmailProvider {
	case "postmark":
		return email.NewPostmark(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailFrom)
	case "smtp":
		return email.NewSMTP(email.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			From:       cfg.EmailFrom,
			Encryption: cfg.SMTPEncryption,
		})
	default:
		logger.Warn("no email provider configured, email deliveries will fail")
		return email.Disabled{}
	}
}

// Dispatcher returns the notification dispatcher.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Start launches the background workers. They stop when ctx is cancelled;
// call Shutdown afterwards to drain the queue.
func (s *Server) Start(ctx context.Context) error {
	s.queue.Start(ctx)

	if err := s.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	if s.bridge != nil {
		go func() {
			if err := s.bridge.Run(ctx); err != nil {
				s.logger.Error("realtime bridge stopped", "error", err)
			}
		}()
	}
	if s.consumer != nil {
		go func() {
			if err := s.consumer.Run(ctx); err != nil {
				s.logger.Error("queue consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.rateLimiter.Cleanup(10 * time.Minute)
			}
		}
	}()
	return nil
}

// Shutdown stops the scheduler and waits for queued dispatches.
func (s *Server) Shutdown() {
	if err := s.maintenance.Stop(); err != nil {
		s.logger.Warn("stop maintenance", "error", err)
	}
	s.queue.Close()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", handler.Health(s.checks))
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", middleware.RequireUser(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	callerKey := func(r *http.Request) string {
		return r.Header.Get(middleware.HeaderUserID)
	}
	limited := middleware.RateLimit(s.rateLimiter, callerKey)

	// Notification routes
	mux.Handle("POST /api/notifications", limited(http.HandlerFunc(s.notificationH.Create)))
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("GET /api/notifications/unread-count", s.notificationH.UnreadCount)
	mux.HandleFunc("POST /api/notifications/read-all", s.notificationH.MarkAllRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.notificationH.Delete)

	// Preference routes
	mux.HandleFunc("GET /api/preferences", s.preferenceH.Get)
	mux.HandleFunc("PUT /api/preferences", s.preferenceH.Update)

	// Push subscription routes
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Webhook routes
	mux.HandleFunc("GET /api/webhooks", s.webhookH.List)
	mux.HandleFunc("POST /api/webhooks", s.webhookH.Create)
	mux.HandleFunc("DELETE /api/webhooks/{id}", s.webhookH.Delete)

	// In-app feed
	mux.HandleFunc("GET /ws", realtime.HandleWebSocket(s.hub, s.dispatcher, s.cfg.AllowedOrigins, s.logger.With("component", "websocket")))
}
