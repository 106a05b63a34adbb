package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the annotation service.
type Config struct {
	HTTPPort         int
	SQLitePath       string
	SessionTTL       time.Duration
	SessionCacheSize int
	DefaultPageSize  int
	MaxPageSize      int
	LabelsFile       string
	AuditBuffer      int
	StoreRetries     int
	AdminUsernames   []string
	LogFormat        string
	LogLevel         slog.Level
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		HTTPPort:         8080,
		SQLitePath:       "conduit.db",
		SessionTTL:       10 * time.Minute,
		SessionCacheSize: 1024,
		DefaultPageSize:  10,
		MaxPageSize:      500,
		AuditBuffer:      256,
		StoreRetries:     3,
		LogFormat:        "json",
		LogLevel:         slog.LevelInfo,
	}
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom parses configuration through the given lookup function.
//
// Every invalid key is collected so one run reports all of them.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()
	invalid := make([]string, 0, 2)

	value := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}
	positiveInt := func(key string, target *int) {
		raw := value(key)
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			invalid = append(invalid, key)
			return
		}
		*target = n
	}

	positiveInt("CONDUIT_HTTP_PORT", &cfg.HTTPPort)
	positiveInt("CONDUIT_SESSION_CACHE_SIZE", &cfg.SessionCacheSize)
	positiveInt("CONDUIT_DEFAULT_PAGE_SIZE", &cfg.DefaultPageSize)
	positiveInt("CONDUIT_MAX_PAGE_SIZE", &cfg.MaxPageSize)
	positiveInt("CONDUIT_AUDIT_BUFFER", &cfg.AuditBuffer)

	if cfg.HTTPPort > 65535 {
		invalid = append(invalid, "CONDUIT_HTTP_PORT")
	}

	if raw := value("CONDUIT_STORE_RETRIES"); raw != "" {
		retries, err := strconv.Atoi(raw)
		if err != nil || retries < 0 {
			invalid = append(invalid, "CONDUIT_STORE_RETRIES")
		} else {
			cfg.StoreRetries = retries
		}
	}

	if dsn := value("CONDUIT_SQLITE_DSN"); dsn != "" {
		cfg.SQLitePath = dsn
	}
	cfg.LabelsFile = value("CONDUIT_LABELS_FILE")

	if raw := value("CONDUIT_SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "CONDUIT_SESSION_TTL")
		} else {
			cfg.SessionTTL = ttl
		}
	}

	if cfg.DefaultPageSize > cfg.MaxPageSize {
		invalid = append(invalid, "CONDUIT_DEFAULT_PAGE_SIZE")
	}

	if raw := value("CONDUIT_ADMIN_USERNAMES"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.AdminUsernames = append(cfg.AdminUsernames, name)
			}
		}
	}

	if raw := value("CONDUIT_LOG_FORMAT"); raw != "" {
		switch format := strings.ToLower(raw); format {
		case "json", "text":
			cfg.LogFormat = format
		default:
			invalid = append(invalid, "CONDUIT_LOG_FORMAT")
		}
	}

	if raw := value("CONDUIT_LOG_LEVEL"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			invalid = append(invalid, "CONDUIT_LOG_LEVEL")
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.HTTPPort)
}
