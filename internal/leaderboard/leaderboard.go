// Package leaderboard keeps per-user scores up to date and serves the ranked view.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"ghleaderboard.shikanime.studio/internal/cache"
	"ghleaderboard.shikanime.studio/internal/config"
	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/datastore"
	"ghleaderboard.shikanime.studio/internal/github"
	"ghleaderboard.shikanime.studio/internal/notify"
	"ghleaderboard.shikanime.studio/internal/scoring"
)

// Store persists users, score records and the activity log.
type Store interface {
	Ping(ctx context.Context) error
	Close() error
	CreateUser(ctx context.Context, u database.User) (*database.User, error)
	GetUser(ctx context.Context, username string) (*database.User, error)
	ListUsers(ctx context.Context) ([]database.User, error)
	GetScore(ctx context.Context, username string) (*database.ScoreRecord, error)
	UpdateScore(ctx context.Context, username string, fn func(database.ScoreTx) error) error
	ListLeaderboard(ctx context.Context, args database.ListLeaderboardArgs) ([]database.LeaderboardEntry, error)
	ListActivity(ctx context.Context, args database.ListActivityArgs) ([]database.ActivityLogEntry, error)
}

// Fetcher reads contribution data from GitHub.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, login string) (scoring.Snapshot, error)
	GetProfile(ctx context.Context, login string) (*github.Profile, error)
}

// Leaderboard aggregates the score store, the GitHub fetcher and the ranked view cache.
type Leaderboard struct {
	store    Store
	fetcher  Fetcher
	notifier notify.Notifier
	clock    clock.PassiveClock
	cache    *cache.TTL[int, []database.LeaderboardEntry]
	opts     Options
}

// Options holds configuration for initializing a Leaderboard.
type Options struct {
	clock        clock.PassiveClock
	notifier     notify.Notifier
	cacheTTL     time.Duration
	limit        int
	includeZero  bool
	fetchTimeout time.Duration
	activity     int
}

// Option applies a configuration to Options.
type Option func(*Options)

// WithClock sets the clock used for timestamps and cache expiry.
func WithClock(c clock.PassiveClock) Option { return func(o *Options) { o.clock = c } }

// WithNotifier sets where score changes are announced.
func WithNotifier(n notify.Notifier) Option { return func(o *Options) { o.notifier = n } }

// WithCacheTTL sets how long a ranked view is served before it is recomputed; zero disables caching.
func WithCacheTTL(d time.Duration) Option { return func(o *Options) { o.cacheTTL = d } }

// WithLimit sets the default number of leaderboard entries.
func WithLimit(n int) Option { return func(o *Options) { o.limit = n } }

// WithIncludeZero controls whether users scoring zero are ranked.
func WithIncludeZero(b bool) Option { return func(o *Options) { o.includeZero = b } }

// WithFetchTimeout bounds a single snapshot fetch.
func WithFetchTimeout(d time.Duration) Option { return func(o *Options) { o.fetchTimeout = d } }

// WithActivityLimit sets the default size of the activity feed.
func WithActivityLimit(n int) Option { return func(o *Options) { o.activity = n } }

// NewStoreForConfig opens the SQLite datastore for sqlite3:// DSNs and Postgres otherwise.
func NewStoreForConfig(cfg *config.Config) (Store, error) {
	dsn, err := cfg.GetDsn()
	if err != nil {
		return nil, err
	}
	switch dsn.Scheme {
	case "sqlite3", "sqlite":
		return datastore.NewForConfig(cfg)
	default:
		return database.NewForConfig(cfg)
	}
}

func NewForConfig(cfg *config.Config) (*Leaderboard, error) {
	store, err := NewStoreForConfig(cfg)
	if err != nil {
		return nil, err
	}
	gh, err := github.NewForConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return New(
		store,
		gh,
		WithNotifier(notify.NewForConfig(cfg)),
		WithCacheTTL(cfg.GetLeaderboardCacheTTL()),
		WithLimit(cfg.GetLeaderboardLimit()),
		WithIncludeZero(cfg.GetIncludeZeroScores()),
		WithFetchTimeout(cfg.GetFetchTimeout()),
	), nil
}

// New constructs a Leaderboard with the given store, fetcher and options.
func New(store Store, fetcher Fetcher, opts ...Option) *Leaderboard {
	o := Options{
		clock:        clock.RealClock{},
		notifier:     notify.Noop{},
		cacheTTL:     time.Minute,
		limit:        100,
		includeZero:  true,
		fetchTimeout: 30 * time.Second,
		activity:     20,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Leaderboard{
		store:    store,
		fetcher:  fetcher,
		notifier: o.notifier,
		clock:    o.clock,
		cache:    cache.New[int, []database.LeaderboardEntry](o.cacheTTL, o.clock),
		opts:     o,
	}
}

func (lb *Leaderboard) Close() error {
	if lb.store != nil {
		return lb.store.Close()
	}
	return nil
}

// Ping verifies that the store is reachable.
func (lb *Leaderboard) Ping(ctx context.Context) error {
	if lb.store == nil {
		return fmt.Errorf("store not configured")
	}
	if err := lb.store.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "Store ping failed", "error", err)
		return storeErr("ping", err)
	}
	return nil
}
