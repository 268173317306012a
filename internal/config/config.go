// Package config reads server settings from HOMEQUEST_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/homequest/internal/media"
	"github.com/dukerupert/homequest/internal/retention"
)

const prefix = "HOMEQUEST_"

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	JWTSecret string
	JWTIssuer string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	Retention          retention.Config
	ChangePollInterval time.Duration
	InstantComplete    bool

	Media media.S3Config
}

// Load reads .env (if present) without overriding variables already set,
// then builds the Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the Config from getenv. Only JWT_SECRET is required.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(prefix + key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:      get("PORT", "8080"),
		DBPath:    get("DB_PATH", "homequest.db"),
		LogLevel:  get("LOG_LEVEL", "info"),
		LogFormat: get("LOG_FORMAT", "text"),

		JWTSecret: get("JWT_SECRET", ""),
		JWTIssuer: get("JWT_ISSUER", ""),

		VAPIDPublicKey:  get("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: get("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    get("VAPID_SUBJECT", "mailto:admin@homequest.local"),

		Retention: retention.Config{
			Schedule: get("PRUNE_SCHEDULE", retention.DefaultSchedule),
		},

		Media: media.S3Config{
			Endpoint:  get("MEDIA_S3_ENDPOINT", ""),
			Bucket:    get("MEDIA_S3_BUCKET", ""),
			Region:    get("MEDIA_S3_REGION", "us-east-1"),
			AccessKey: get("MEDIA_S3_ACCESS_KEY", ""),
			SecretKey: get("MEDIA_S3_SECRET_KEY", ""),
		},
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("%sJWT_SECRET is required", prefix)
	}

	days, err := strconv.Atoi(get("FEED_RETENTION_DAYS", "30"))
	if err != nil || days <= 0 {
		return Config{}, fmt.Errorf("%sFEED_RETENTION_DAYS must be a positive integer", prefix)
	}
	cfg.Retention.MaxAge = time.Duration(days) * 24 * time.Hour

	maxEntries, err := strconv.Atoi(get("FEED_MAX_ENTRIES", "500"))
	if err != nil || maxEntries <= 0 {
		return Config{}, fmt.Errorf("%sFEED_MAX_ENTRIES must be a positive integer", prefix)
	}
	cfg.Retention.MaxEntries = maxEntries

	cfg.ChangePollInterval, err = time.ParseDuration(get("CHANGE_POLL_INTERVAL", "2s"))
	if err != nil || cfg.ChangePollInterval <= 0 {
		return Config{}, fmt.Errorf("%sCHANGE_POLL_INTERVAL must be a positive duration", prefix)
	}

	cfg.InstantComplete, err = strconv.ParseBool(get("INSTANT_COMPLETE", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("%sINSTANT_COMPLETE must be a boolean", prefix)
	}

	return cfg, nil
}

// PushEnabled reports whether both VAPID keys are configured.
func (c Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
