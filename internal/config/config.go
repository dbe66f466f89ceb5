package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct{ v *viper.Viper }

func New() *Config {
	vv := viper.New()
	vv.AutomaticEnv()
	return &Config{v: vv}
}

// ReadFile loads settings from path on top of the environment.
func (c *Config) ReadFile(path string) error {
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// GetDsn resolves the final DSN using env vars
func (c *Config) GetDsn() (*url.URL, error) {
	source := c.v.GetString("DSN")
	if source == "" {
		user := c.v.GetString("PGUSER")
		if user == "" {
			user = c.v.GetString("USER")
		}
		if user == "" {
			user = "postgres"
		}

		dbName := c.v.GetString("PGDATABASE")
		if dbName == "" {
			dbName = "postgres"
		}

		host := c.v.GetString("PGHOST")
		if host == "" {
			host = "localhost"
		}

		port := c.v.GetString("PGPORT")
		hasPortEnv := port != ""
		if !hasPortEnv {
			port = "5432"
		}

		if strings.HasPrefix(host, "/") {
			socketDir := host

			// PGHOST may point at the socket file itself.
			if fi, err := os.Stat(host); err == nil && !fi.IsDir() {
				socketDir = filepath.Dir(host)
				if !hasPortEnv {
					base := filepath.Base(host)
					if strings.HasPrefix(base, ".s.PGSQL.") {
						if inferred := strings.TrimPrefix(base, ".s.PGSQL."); inferred != "" {
							if _, err := strconv.Atoi(inferred); err == nil {
								port = inferred
							}
						}
					}
				}
			}

			q := url.Values{}
			q.Set("host", socketDir)
			q.Set("port", port)
			q.Set("sslmode", "disable")
			source = "postgres://" + user + "@/" + dbName + "?" + q.Encode()
		} else {
			source = "postgres://" + user + "@" + host + ":" + port + "/" + dbName + "?sslmode=disable"
		}
	}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return nil, errors.New("invalid DSN: must be in format driver://dataSourceName")
	}
	return u, nil
}

func (c *Config) GetGitHubToken() string {
	if t := c.v.GetString("GITHUB_TOKEN"); t != "" {
		return t
	}
	return c.v.GetString("GH_TOKEN")
}

func (c *Config) GetAddr() string {
	port := c.v.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	host := c.v.GetString("HOST")
	if host == "" {
		host = "localhost"
	}
	return host + ":" + port
}

func (c *Config) getDuration(key string, def time.Duration) time.Duration {
	if v := c.v.GetString(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (c *Config) getInt(key string, def int) int {
	if v := c.v.GetString(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetLeaderboardCacheTTL returns how long a computed leaderboard may be served.
// Reads duration from env var LEADERBOARD_CACHE_TTL; defaults to 60s.
func (c *Config) GetLeaderboardCacheTTL() time.Duration {
	return c.getDuration("LEADERBOARD_CACHE_TTL", time.Minute)
}

// GetLeaderboardLimit returns the default leaderboard size from LEADERBOARD_LIMIT.
func (c *Config) GetLeaderboardLimit() int {
	if n := c.getInt("LEADERBOARD_LIMIT", 100); n > 0 {
		return n
	}
	return 100
}

// GetIncludeZeroScores reports whether zero-score users appear on the leaderboard.
// Reads LEADERBOARD_INCLUDE_ZERO; defaults to true.
func (c *Config) GetIncludeZeroScores() bool {
	if v := c.v.GetString("LEADERBOARD_INCLUDE_ZERO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return true
}

// GetFetchTimeout bounds a single snapshot fetch from GitHub. Defaults to 30s.
func (c *Config) GetFetchTimeout() time.Duration {
	return c.getDuration("FETCH_TIMEOUT", 30*time.Second)
}

// GetRefreshInterval returns the batch refresh period; zero disables it. Defaults to 6h.
func (c *Config) GetRefreshInterval() time.Duration {
	return c.getDuration("REFRESH_INTERVAL", 6*time.Hour)
}

// GetRefreshDelay returns the pause between users during a batch refresh. Defaults to 2s.
func (c *Config) GetRefreshDelay() time.Duration {
	return c.getDuration("REFRESH_DELAY", 2*time.Second)
}

// GetGitHubMaxRepos caps how many repositories are scanned for commit counts.
func (c *Config) GetGitHubMaxRepos() int {
	if n := c.getInt("GITHUB_MAX_REPOS", 100); n > 0 {
		return n
	}
	return 100
}

func (c *Config) GetNotificationsEnabled() bool { return c.v.GetBool("NOTIFICATIONS_ENABLED") }

func (c *Config) GetServiceName() string {
	if s := c.v.GetString("OTEL_SERVICE_NAME"); s != "" {
		return s
	}
	return "ghleaderboard"
}

func (c *Config) Set(key string, value any) { c.v.Set(key, value) }

// GetLogLevel returns the log level from env var LOG_LEVEL mapped to slog.Level.
// Recognized values: debug, info (default), warn|warning, error.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.v.GetString("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnLogLevelChange calls fn with the slog.Level whenever it changes.
// The initial call is made immediately.
func (c *Config) OnLogLevelChange(fn func(slog.Level)) {
	apply := func() { fn(c.GetLogLevel()) }
	apply()
	c.v.OnConfigChange(func(e fsnotify.Event) { apply() })
}

// Watch reloads the config file whenever it changes on disk.
// It is a no-op when no file was read.
func (c *Config) Watch() {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.WatchConfig()
}
