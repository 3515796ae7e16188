package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all settings read from HERALD_* environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	DBPath   string `envconfig:"DB_PATH" default:"herald.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFile adds a rotated JSON log next to stderr output when set.
	LogFile string `envconfig:"LOG_FILE"`

	// DefaultTimezone evaluates quiet hours for users with no known timezone.
	DefaultTimezone string        `envconfig:"DEFAULT_TIMEZONE" default:"UTC"`
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"10s"`
	PersistTimeout  time.Duration `envconfig:"PERSIST_TIMEOUT" default:"5s"`
	PreferenceTTL   time.Duration `envconfig:"PREFERENCE_CACHE_TTL" default:"30s"`

	Workers   int `envconfig:"WORKERS" default:"4"`
	QueueSize int `envconfig:"QUEUE_SIZE" default:"256"`

	// SendRate is the number of notifications one caller may submit per minute.
	SendRate  int `envconfig:"SEND_RATE" default:"120"`
	SendBurst int `envconfig:"SEND_BURST" default:"20"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `envconfig:"VAPID_SUBSCRIBER" default:"mailto:ops@example.com"`

	EmailProvider        string `envconfig:"EMAIL_PROVIDER" default:"none"`
	EmailFrom            string `envconfig:"EMAIL_FROM" default:"notifications@example.com"`
	PostmarkServerToken  string `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `envconfig:"POSTMARK_ACCOUNT_TOKEN"`
	SMTPHost             string `envconfig:"SMTP_HOST"`
	SMTPPort             int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername         string `envconfig:"SMTP_USERNAME"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	SMTPEncryption       string `envconfig:"SMTP_ENCRYPTION" default:"starttls"`

	SMSBaseURL    string `envconfig:"SMS_BASE_URL" default:"https://api.twilio.com"`
	SMSAccountSID string `envconfig:"SMS_ACCOUNT_SID"`
	SMSAuthToken  string `envconfig:"SMS_AUTH_TOKEN"`
	SMSFrom       string `envconfig:"SMS_FROM"`

	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"5s"`

	// RedisURL enables cross-instance in-app delivery and the request queue consumer.
	RedisURL          string        `envconfig:"REDIS_URL"`
	RedisRetries      int           `envconfig:"REDIS_RETRY_ATTEMPTS" default:"3"`
	RedisRetryDelay   time.Duration `envconfig:"REDIS_RETRY_INTERVAL" default:"2s"`
	RedisQueueKey     string        `envconfig:"REDIS_QUEUE_KEY" default:"herald:requests"`
	MaintenanceWindow time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"1h"`
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("herald", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	c.EmailProvider = strings.ToLower(strings.TrimSpace(c.EmailProvider))
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.EmailProvider {
	case "none", "postmark", "smtp":
	default:
		return fmt.Errorf("HERALD_EMAIL_PROVIDER: unknown provider %q", c.EmailProvider)
	}
	if c.EmailProvider == "smtp" && c.SMTPHost == "" {
		return fmt.Errorf("HERALD_SMTP_HOST is required for the smtp provider")
	}
	if c.Workers < 1 {
		return fmt.Errorf("HERALD_WORKERS must be at least 1")
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("HERALD_DISPATCH_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("HERALD_DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

// Location is the parsed DefaultTimezone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PushConfigured() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
