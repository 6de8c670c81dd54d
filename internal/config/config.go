package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PlatformTumblrOAuth1 = "tumblr-oauth1"
	PlatformTumblrOAuth2 = "tumblr-oauth2"
)

type Config struct {
	LogLevel string
	DataDir  string

	// Data files, derived from DataDir unless overridden
	PendingPostsFile  string
	PostedLogsFile    string
	TokenFile         string
	URLsFile          string
	ProcessedURLsFile string

	// Platform selection
	Platform                string
	BlogName                string
	TumblrAPIBase           string
	PublishDelay            time.Duration
	PublishVerifyConnection bool
	RequestTimeout          time.Duration

	// OAuth 2.0
	ClientID           string
	ClientSecret       string
	AuthCode           string
	RedirectURI        string
	TokenURL           string
	AuthorizeURL       string
	TokenRefreshMargin time.Duration
	CallbackAddr       string

	// OAuth 1.0a
	ConsumerKey        string
	ConsumerSecret     string
	OAuthToken         string
	OAuthTokenSecret   string
	RequestTokenURL    string
	OAuth1AuthorizeURL string
	AccessTokenURL     string

	// Generation
	GeminiAPIKey     string
	GeminiModel      string
	GeminiTier       string
	URLsPerRun       int
	FirstPostDelay   time.Duration
	PostInterval     time.Duration
	FetchPageContext bool

	// Notification (SMTP)
	NotificationEmail string
	SMTPHost          string
	SMTPPort          string
	SMTPUser          string
	SMTPPass          string
	SMTPFrom          string

	// Scheduler daemon
	PublishCron  string
	GenerateCron string

	// Optional infrastructure
	RedisURL      string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	AuditMongoURI string
	AuditMongoDB  string

	OTLPEndpoint string
	ServiceName  string

	ExportPath string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DataDir:  dataDir,

		PendingPostsFile:  getEnv("PENDING_POSTS_FILE", filepath.Join(dataDir, "pending_posts.csv")),
		PostedLogsFile:    getEnv("POSTED_LOGS_FILE", filepath.Join(dataDir, "posted_logs.csv")),
		TokenFile:         getEnv("TOKEN_FILE", filepath.Join(dataDir, "tumblr_token.json")),
		URLsFile:          getEnv("URLS_FILE", filepath.Join(dataDir, "urls.txt")),
		ProcessedURLsFile: getEnv("PROCESSED_URLS_FILE", filepath.Join(dataDir, "processed_urls.txt")),

		Platform:                getEnv("POST_PLATFORM", PlatformTumblrOAuth2),
		BlogName:                getEnv("TUMBLR_BLOG_NAME", ""),
		TumblrAPIBase:           getEnv("TUMBLR_API_BASE", "https://api.tumblr.com/v2"),
		PublishDelay:            getEnvDuration("PUBLISH_DELAY", 3*time.Second),
		PublishVerifyConnection: getEnvBool("PUBLISH_VERIFY_CONNECTION", false),
		RequestTimeout:          getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		ClientID:           getEnv("TUMBLR_CLIENT_ID", ""),
		ClientSecret:       getEnv("TUMBLR_CLIENT_SECRET", ""),
		AuthCode:           getEnv("TUMBLR_AUTH_CODE", ""),
		RedirectURI:        getEnv("TUMBLR_REDIRECT_URI", "http://localhost:8080/callback"),
		TokenURL:           getEnv("TUMBLR_TOKEN_URL", "https://api.tumblr.com/v2/oauth2/token"),
		AuthorizeURL:       getEnv("TUMBLR_AUTHORIZE_URL", "https://www.tumblr.com/oauth2/authorize"),
		TokenRefreshMargin: getEnvDuration("TOKEN_REFRESH_MARGIN", time.Hour),
		CallbackAddr:       getEnv("CALLBACK_ADDR", "localhost:8080"),

		ConsumerKey:        getEnv("TUMBLR_CONSUMER_KEY", ""),
		ConsumerSecret:     getEnv("TUMBLR_CONSUMER_SECRET", ""),
		OAuthToken:         getEnv("TUMBLR_OAUTH_TOKEN", ""),
		OAuthTokenSecret:   getEnv("TUMBLR_OAUTH_TOKEN_SECRET", ""),
		RequestTokenURL:    getEnv("TUMBLR_REQUEST_TOKEN_URL", "https://www.tumblr.com/oauth/request_token"),
		OAuth1AuthorizeURL: getEnv("TUMBLR_OAUTH1_AUTHORIZE_URL", "https://www.tumblr.com/oauth/authorize"),
		AccessTokenURL:     getEnv("TUMBLR_ACCESS_TOKEN_URL", "https://www.tumblr.com/oauth/access_token"),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemma-3-27b-it"),
		GeminiTier:       getEnv("GEMINI_TIER", "free"),
		URLsPerRun:       getEnvInt("URLS_PER_RUN", 50),
		FirstPostDelay:   getEnvDuration("FIRST_POST_DELAY", time.Hour),
		PostInterval:     getEnvDuration("POST_INTERVAL", 3*time.Hour),
		FetchPageContext: getEnvBool("FETCH_PAGE_CONTEXT", false),

		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", getEnv("SMTP_SERVER", "smtp.gmail.com")),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUser:          getEnv("SMTP_USER", getEnv("EMAIL_USER", "")),
		SMTPPass:          getEnv("SMTP_PASS", getEnv("EMAIL_PASSWORD", "")),
		SMTPFrom:          getEnv("SMTP_FROM", ""),

		PublishCron:  getEnv("PUBLISH_CRON", "0 * * * *"),
		GenerateCron: getEnv("GENERATE_CRON", "0 6 * * *"),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		LockTTL:       getEnvDuration("LOCK_TTL", 30*time.Minute),

		AuditMongoURI: getEnv("AUDIT_MONGO_URI", ""),
		AuditMongoDB:  getEnv("AUDIT_MONGO_DB", "autoposter"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "content-autoposter"),

		ExportPath: getEnv("EXPORT_PATH", filepath.Join(dataDir, "report.xlsx")),
	}

	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUser
	}

	return cfg, nil
}

// ValidatePublish checks the settings required by the publishing run.
func (c *Config) ValidatePublish() error {
	var missing []string
	if c.BlogName == "" {
		missing = append(missing, "TUMBLR_BLOG_NAME")
	}
	switch c.Platform {
	case PlatformTumblrOAuth2:
		if c.ClientID == "" {
			missing = append(missing, "TUMBLR_CLIENT_ID")
		}
		if c.ClientSecret == "" {
			missing = append(missing, "TUMBLR_CLIENT_SECRET")
		}
	case PlatformTumblrOAuth1:
		required := [][2]string{
			{"TUMBLR_CONSUMER_KEY", c.ConsumerKey},
			{"TUMBLR_CONSUMER_SECRET", c.ConsumerSecret},
			{"TUMBLR_OAUTH_TOKEN", c.OAuthToken},
			{"TUMBLR_OAUTH_TOKEN_SECRET", c.OAuthTokenSecret},
		}
		for _, kv := range required {
			if kv[1] == "" {
				missing = append(missing, kv[0])
			}
		}
	default:
		return fmt.Errorf("POST_PLATFORM must be %q or %q, got %q", PlatformTumblrOAuth2, PlatformTumblrOAuth1, c.Platform)
	}
	if c.PublishDelay < 0 {
		return errors.New("PUBLISH_DELAY must not be negative")
	}
	return missingError(missing)
}

// ValidateGenerate checks the settings required by the generation run.
func (c *Config) ValidateGenerate() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if err := missingError(missing); err != nil {
		return err
	}
	if c.URLsPerRun <= 0 {
		return errors.New("URLS_PER_RUN must be positive")
	}
	if c.FirstPostDelay <= 0 {
		return errors.New("FIRST_POST_DELAY must be positive")
	}
	if c.PostInterval < 0 {
		return errors.New("POST_INTERVAL must not be negative")
	}
	return nil
}

// ValidateAuthorize checks the settings required by the authorization helper.
func (c *Config) ValidateAuthorize() error {
	var missing []string
	switch c.Platform {
	case PlatformTumblrOAuth2:
		if c.ClientID == "" {
			missing = append(missing, "TUMBLR_CLIENT_ID")
		}
		if c.ClientSecret == "" {
			missing = append(missing, "TUMBLR_CLIENT_SECRET")
		}
	case PlatformTumblrOAuth1:
		if c.ConsumerKey == "" {
			missing = append(missing, "TUMBLR_CONSUMER_KEY")
		}
		if c.ConsumerSecret == "" {
			missing = append(missing, "TUMBLR_CONSUMER_SECRET")
		}
	default:
		return fmt.Errorf("POST_PLATFORM must be %q or %q, got %q", PlatformTumblrOAuth2, PlatformTumblrOAuth1, c.Platform)
	}
	return missingError(missing)
}

// NotificationsEnabled reports whether a report email can be sent.
func (c *Config) NotificationsEnabled() bool {
	return c.NotificationEmail != "" && c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
