// Package config loads marksync settings from the environment. Command-line
// flags are applied on top by the cmd package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Server holds the store server settings. It is read once at startup and
// treated as immutable.
type Server struct {
	// Storage: DatabaseURL (postgres://...) wins over DBPath (sqlite file).
	DBPath      string
	DatabaseURL string

	// Listener
	Host string
	Port int

	// PublicURL is the externally reachable base URL; the OAuth callback is
	// derived from it.
	PublicURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string

	// Tokens
	JWTSecret  string
	SessionTTL time.Duration

	// RateLimit is requests per minute per user on the REST API.
	RateLimit int

	LogLevel string
}

// Client holds the settings for the interactive commands.
type Client struct {
	ServerURL      string
	SessionFile    string
	RequestTimeout time.Duration
	LogLevel       string
}

// LoadServer reads the server configuration from the environment.
// It returns an error naming every required variable that is unset.
func LoadServer() (*Server, error) {
	cfg := &Server{}

	var missing []string

	cfg.JWTSecret = os.Getenv("MARKSYNC_JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "MARKSYNC_JWT_SECRET")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.DBPath = getEnvString("MARKSYNC_DB", "marksync.db")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.Host = getEnvString("MARKSYNC_HOST", "localhost")
	cfg.Port = getEnvInt("MARKSYNC_PORT", 8080)
	cfg.PublicURL = strings.TrimRight(getEnvString("MARKSYNC_PUBLIC_URL", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)), "/")
	cfg.SessionTTL = getEnvDuration("MARKSYNC_SESSION_TTL", 7*24*time.Hour)
	cfg.RateLimit = getEnvInt("MARKSYNC_RATE_LIMIT", 120)
	cfg.LogLevel = getEnvString("MARKSYNC_LOG_LEVEL", "info")

	return cfg, nil
}

// LoadClient reads the client configuration from the environment. All
// fields have defaults.
func LoadClient() *Client {
	return &Client{
		ServerURL:      strings.TrimRight(getEnvString("MARKSYNC_SERVER", "http://localhost:8080"), "/"),
		SessionFile:    getEnvString("MARKSYNC_SESSION_FILE", DefaultSessionFile()),
		RequestTimeout: getEnvDuration("MARKSYNC_REQUEST_TIMEOUT", 15*time.Second),
		LogLevel:       getEnvString("MARKSYNC_LOG_LEVEL", "warn"),
	}
}

// DefaultSessionFile is where the identity client keeps its access token.
func DefaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".marksync-session.json"
	}
	return filepath.Join(dir, "marksync", "session.json")
}

// CallbackURL is the OAuth redirect URL registered with the provider.
func (s *Server) CallbackURL() string {
	return s.PublicURL + "/auth/v1/callback"
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
