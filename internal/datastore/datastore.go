// Package datastore is a SQLite score store for local development and tests.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ghleaderboard.shikanime.studio/internal/config"
	"ghleaderboard.shikanime.studio/internal/database"
)

// SQLiteDatastore stores users, scores and activity in a SQLite file.
type SQLiteDatastore struct {
	db *sql.DB
	// SQLite has a single writer; mu keeps score transactions from racing for it.
	mu sync.Mutex
}

// OpenSQLiteDatastore creates a new SQLite datastore
func OpenSQLiteDatastore(dbPath string) (*SQLiteDatastore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteDatastore{db: db}, nil
}

// PathFromDSN extracts the file path of a sqlite3:// DSN.
func PathFromDSN(u *url.URL) string {
	p := u.Host + u.Path
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// NewForConfig opens, initializes and migrates the SQLite datastore named by the DSN.
func NewForConfig(cfg *config.Config) (*SQLiteDatastore, error) {
	u, err := cfg.GetDsn()
	if err != nil {
		return nil, err
	}
	if u.Scheme != "sqlite3" && u.Scheme != "sqlite" {
		return nil, fmt.Errorf("unsupported sqlite dsn scheme %q", u.Scheme)
	}
	s, err := OpenSQLiteDatastore(PathFromDSN(u))
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the datastore by enabling foreign keys
func (s *SQLiteDatastore) Init() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// Migrate creates the database schema
func (s *SQLiteDatastore) Migrate() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func tracer() trace.Tracer { return otel.Tracer("ghleaderboard/datastore") }

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *SQLiteDatastore) Ping(ctx context.Context) error {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.Ping")
	defer span.End()
	if err := s.db.PingContext(ctx); err != nil {
		fail(span, err)
		return err
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDatastore) Close() error {
	return s.db.Close()
}

func (s *SQLiteDatastore) CreateUser(ctx context.Context, u database.User) (*database.User, error) {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.CreateUser")
	span.SetAttributes(attribute.String("username", u.Username))
	defer span.End()
	var out database.User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, profile_url, name, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING username, profile_url, name, avatar_url, created_at
	`, u.Username, u.ProfileURL, u.Name, u.AvatarURL, time.Now().UTC()).
		Scan(&out.Username, &out.ProfileURL, &out.Name, &out.AvatarURL, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrDuplicate
		}
		fail(span, err)
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	slog.DebugContext(ctx, "user created", "username", out.Username)
	return &out, nil
}

func (s *SQLiteDatastore) GetUser(ctx context.Context, username string) (*database.User, error) {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.GetUser")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	var u database.User
	err := s.db.QueryRowContext(ctx, `
		SELECT username, profile_url, name, avatar_url, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&u.Username, &u.ProfileURL, &u.Name, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		fail(span, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteDatastore) ListUsers(ctx context.Context) ([]database.User, error) {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.ListUsers")
	defer span.End()
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, profile_url, name, avatar_url, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	users := []database.User{}
	for rows.Next() {
		var u database.User
		if err := rows.Scan(&u.Username, &u.ProfileURL, &u.Name, &u.AvatarURL, &u.CreatedAt); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, err
	}
	slog.DebugContext(ctx, "list users done", "count", len(users))
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*database.ScoreRecord, error) {
	var r database.ScoreRecord
	err := row.Scan(
		&r.Username,
		&r.PullRequestsOpened,
		&r.PullRequestsMerged,
		&r.IssuesCreated,
		&r.IssuesClosed,
		&r.ReposContributedTo,
		&r.StarredRepositories,
		&r.CommitChanges,
		&r.TotalScore,
		&r.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return &r, nil
}

func (s *SQLiteDatastore) GetScore(ctx context.Context, username string) (*database.ScoreRecord, error) {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.GetScore")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	rec, err := scanScore(s.db.QueryRowContext(ctx, selectScoreQuery, username))
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return rec, nil
}

type scoreTx struct {
	tx       *sql.Tx
	username string
}

func (t *scoreTx) GetScore(ctx context.Context) (*database.ScoreRecord, error) {
	return scanScore(t.tx.QueryRowContext(ctx, selectScoreQuery, t.username))
}

func (t *scoreTx) PutScore(ctx context.Context, r database.ScoreRecord) error {
	if r.Username != t.username {
		return fmt.Errorf("score for %q written in transaction for %q", r.Username, t.username)
	}
	_, err := t.tx.ExecContext(ctx, upsertScoreQuery,
		r.Username,
		r.PullRequestsOpened,
		r.PullRequestsMerged,
		r.IssuesCreated,
		r.IssuesClosed,
		r.ReposContributedTo,
		r.StarredRepositories,
		r.CommitChanges,
		r.TotalScore,
		r.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert score: %w", err)
	}
	return nil
}

func (t *scoreTx) AppendActivity(ctx context.Context, e database.ActivityLogEntry) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO activity_log (username, delta, description, created_at)
		VALUES (?, ?, ?, ?)
	`, t.username, e.Delta, e.Description, e.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert activity: %w", err)
	}
	return res.LastInsertId()
}

// UpdateScore runs fn inside a transaction. Only one score transaction runs at a time.
func (s *SQLiteDatastore) UpdateScore(ctx context.Context, username string, fn func(database.ScoreTx) error) error {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.UpdateScore")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&scoreTx{tx: tx, username: username}); err != nil {
		fail(span, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		fail(span, err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.DebugContext(ctx, "score transaction committed", "username", username)
	return nil
}

func (s *SQLiteDatastore) ListLeaderboard(ctx context.Context, args database.ListLeaderboardArgs) ([]database.LeaderboardEntry, error) {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.ListLeaderboard")
	span.SetAttributes(attribute.Int("limit", args.Limit), attribute.Bool("include_zero", args.IncludeZero))
	defer span.End()
	query, qargs, err := database.RenderListLeaderboardQuery(args, func(int) string { return "?" })
	if err != nil {
		fail(span, err)
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, qargs...)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}
	defer rows.Close()
	out := []database.LeaderboardEntry{}
	for rows.Next() {
		e := database.LeaderboardEntry{Rank: len(out) + 1}
		if err := rows.Scan(&e.Username, &e.TotalScore, &e.ProfileURL, &e.Name, &e.AvatarURL, &e.LastUpdated); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, err
	}
	slog.DebugContext(ctx, "list leaderboard done", "count", len(out))
	return out, nil
}

func (s *SQLiteDatastore) ListActivity(ctx context.Context, args database.ListActivityArgs) ([]database.ActivityLogEntry, error) {
	ctx, span := tracer().Start(ctx, "SQLiteDatastore.ListActivity")
	span.SetAttributes(attribute.String("username", args.Username), attribute.Int("limit", args.Limit))
	defer span.End()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, delta, description, created_at
		FROM activity_log
		WHERE username = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, args.Username, args.Limit)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()
	out := []database.ActivityLogEntry{}
	for rows.Next() {
		var e database.ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.Delta, &e.Description, &e.CreatedAt); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, err
	}
	slog.DebugContext(ctx, "list activity done", "username", args.Username, "count", len(out))
	return out, nil
}
