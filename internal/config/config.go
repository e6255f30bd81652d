package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Routing
	CollaboratorTimeout  time.Duration
	SweepInterval        time.Duration
	SweepBatch           int
	RespectBusinessHours bool
	RulesFile            string
	TemplatesFile        string
	TemplateCacheSize    int
	WatchFiles           bool // reload rules and templates when their files change
	WatchDebounce        time.Duration

	// Business hours
	BusinessHoursTZ    string
	BusinessHoursDays  string
	BusinessHoursOpen  string
	BusinessHoursClose string

	// Agent directory
	DirectoryMode     string // memory | sqlite
	DirectoryDSN      string
	DirectoryCacheTTL time.Duration
	PresenceSweep     time.Duration

	// Redis fanout and webchat rooms; empty URL disables redis
	RedisURL      string
	RedisPassword string
	RedisPrefix   string

	// RabbitMQ; empty URL logs events instead of publishing
	AMQPURL      string
	AMQPExchange string

	// Job queue
	QueueWorkers    int
	QueueBuffer     int
	QueueMaxRetries int
	QueueRetryBase  time.Duration

	// Notifications
	InboxRecipients   int
	InboxPerRecipient int

	// WhatsApp Cloud API; empty token leaves the platform unregistered
	WhatsAppAPIURL        string
	WhatsAppPhoneNumberID string
	WhatsAppToken         string

	// Auth; an empty secret and issuer disables /api auth
	JWTSecret  string
	OIDCIssuer string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		RulesFile:     os.Getenv("RULES_FILE"),
		TemplatesFile: os.Getenv("TEMPLATES_FILE"),

		BusinessHoursTZ:    getEnv("BUSINESS_HOURS_TZ", "UTC"),
		BusinessHoursDays:  getEnv("BUSINESS_HOURS_DAYS", "mon,tue,wed,thu,fri,sat,sun"),
		BusinessHoursOpen:  getEnv("BUSINESS_HOURS_OPEN", "09:00"),
		BusinessHoursClose: getEnv("BUSINESS_HOURS_CLOSE", "18:00"),

		DirectoryMode: getEnv("DIRECTORY_MODE", "memory"),
		DirectoryDSN:  getEnv("DIRECTORY_DSN", "file:pytake-agents.db"),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   getEnv("REDIS_PREFIX", "pytake:"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "pytake.conversations"),

		WhatsAppAPIURL:        getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v18.0"),
		WhatsAppPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsAppToken:         os.Getenv("WHATSAPP_TOKEN"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		OIDCIssuer: os.Getenv("OIDC_ISSUER"),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"COLLABORATOR_TIMEOUT", "5s", &config.CollaboratorTimeout},
		{"SWEEP_INTERVAL", "30s", &config.SweepInterval},
		{"DIRECTORY_CACHE_TTL", "2s", &config.DirectoryCacheTTL},
		{"PRESENCE_SWEEP", "10s", &config.PresenceSweep},
		{"QUEUE_RETRY_BASE", "200ms", &config.QueueRetryBase},
		{"WATCH_DEBOUNCE", "250ms", &config.WatchDebounce},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dest = v
	}

	ints := []struct {
		key  string
		def  string
		dest *int
	}{
		{"SWEEP_BATCH", "100", &config.SweepBatch},
		{"TEMPLATE_CACHE_SIZE", "256", &config.TemplateCacheSize},
		{"QUEUE_WORKERS", "4", &config.QueueWorkers},
		{"QUEUE_BUFFER", "1024", &config.QueueBuffer},
		{"QUEUE_MAX_RETRIES", "3", &config.QueueMaxRetries},
		{"INBOX_RECIPIENTS", "10000", &config.InboxRecipients},
		{"INBOX_PER_RECIPIENT", "100", &config.InboxPerRecipient},
	}
	for _, n := range ints {
		v, err := strconv.Atoi(getEnv(n.key, n.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", n.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", n.key)
		}
		*n.dest = v
	}

	config.RespectBusinessHours, err = strconv.ParseBool(getEnv("RESPECT_BUSINESS_HOURS", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESPECT_BUSINESS_HOURS: %w", err)
	}

	config.WatchFiles, err = strconv.ParseBool(getEnv("WATCH_FILES", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid WATCH_FILES: %w", err)
	}

	switch config.DirectoryMode {
	case "memory", "sqlite":
	default:
		return nil, fmt.Errorf("invalid DIRECTORY_MODE %q: want memory or sqlite", config.DirectoryMode)
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// AuthEnabled reports whether API requests must carry a token
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.OIDCIssuer != ""
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
