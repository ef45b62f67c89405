// Package config reads the server settings from the environment, after
// loading .env.local or .env when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/thereayou/roomchat/internal/reactions"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port    string
	GinMode string

	LogBackend  string
	DatabaseURL string
	RedisURL    string

	JWTSecret string
	TokenTTL  time.Duration

	AttachmentDBPath   string
	PublicBaseURL      string
	MaxAttachmentBytes int

	ReactionEmojis []string

	SyncRetryMin time.Duration
	SyncRetryMax time.Duration

	AllowedOrigins []string
}

// Load reads .env.local, falling back to .env, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			glog.Info(".env not found, using environment variables")
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup without touching .env files.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		Port:               r.str("PORT", "8080"),
		GinMode:            r.str("GIN_MODE", "release"),
		LogBackend:         strings.ToLower(r.str("LOG_BACKEND", BackendPostgres)),
		DatabaseURL:        r.str("DATABASE_URL", ""),
		RedisURL:           r.str("REDIS_URL", ""),
		JWTSecret:          r.str("JWT_SECRET", ""),
		TokenTTL:           r.duration("TOKEN_TTL", 24*time.Hour),
		AttachmentDBPath:   r.str("ATTACHMENT_DB_PATH", "attachments.db"),
		PublicBaseURL:      strings.TrimRight(r.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		MaxAttachmentBytes: r.integer("MAX_ATTACHMENT_BYTES", 5<<20),
		ReactionEmojis:     r.list("REACTION_EMOJIS", reactions.DefaultPalette),
		SyncRetryMin:       r.duration("SYNC_RETRY_MIN", 250*time.Millisecond),
		SyncRetryMax:       r.duration("SYNC_RETRY_MAX", 10*time.Second),
		AllowedOrigins:     r.list("ALLOWED_ORIGINS", nil),
	}
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.LogBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", BackendPostgres)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s backend", BackendPostgres)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid LOG_BACKEND %q, expect %s or %s", c.LogBackend, BackendPostgres, BackendMemory)
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid GIN_MODE %q, expect debug, release or test", c.GinMode)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive")
	}
	if c.SyncRetryMin <= 0 || c.SyncRetryMax < c.SyncRetryMin {
		return fmt.Errorf("invalid sync retry range [%s, %s]", c.SyncRetryMin, c.SyncRetryMax)
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	return nil
}

type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

// list splits a comma separated value. A set but empty variable yields an
// empty list, not the default.
func (r *reader) list(key string, def []string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
