package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ghleaderboard.shikanime.studio/internal/config"
	dbpgx "ghleaderboard.shikanime.studio/internal/database/pgx"
)

type Database struct {
	pg *pgxpool.Pool
}

// NewForConfig constructs a Database using the provided config.
func NewForConfig(cfg *config.Config) (*Database, error) {
	pg, err := dbpgx.NewClientForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(pg), nil
}

// NewClient constructs a Database using the provided pgx pool.
func NewClient(pg *pgxpool.Pool) *Database { return &Database{pg: pg} }

func tracer() trace.Tracer { return otel.Tracer("ghleaderboard/database") }

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Ping verifies the provided database connection is available
func (db *Database) Ping(ctx context.Context) error {
	ctx, span := tracer().Start(ctx, "Database.Ping")
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	return db.pg.Ping(ctx)
}

func (db *Database) Close() error {
	if db.pg == nil {
		return nil
	}
	db.pg.Close()
	return nil
}

// CreateUser inserts a user. It returns ErrDuplicate when the username or
// profile URL is already registered.
func (db *Database) CreateUser(ctx context.Context, u User) (*User, error) {
	ctx, span := tracer().Start(ctx, "Database.CreateUser")
	span.SetAttributes(attribute.String("username", u.Username))
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	var out User
	err := db.pg.QueryRow(ctx, InsertUserQuery, u.Username, u.ProfileURL, u.Name, u.AvatarURL).
		Scan(&out.Username, &out.ProfileURL, &out.Name, &out.AvatarURL, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDuplicate
		}
		fail(span, err)
		return nil, fmt.Errorf("insert user failed: %w", err)
	}
	slog.DebugContext(ctx, "user created", "username", out.Username)
	return &out, nil
}

// GetUser returns the user or nil when it is not registered.
func (db *Database) GetUser(ctx context.Context, username string) (*User, error) {
	ctx, span := tracer().Start(ctx, "Database.GetUser")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	var u User
	err := db.pg.QueryRow(ctx, UserByUsernameQuery, username).
		Scan(&u.Username, &u.ProfileURL, &u.Name, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		fail(span, err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// ListUsers returns every registered user ordered by username.
func (db *Database) ListUsers(ctx context.Context) ([]User, error) {
	ctx, span := tracer().Start(ctx, "Database.ListUsers")
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.pg.Query(ctx, ListUsersQuery)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list users query failed: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowToStructByPos[User])
	if err != nil {
		fail(span, err)
		return nil, err
	}
	slog.DebugContext(ctx, "list users done", "count", len(users))
	return users, nil
}

func scanScore(row pgx.Row) (*ScoreRecord, error) {
	var r ScoreRecord
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetScore returns the current record or nil when the user has never been scored.
func (db *Database) GetScore(ctx context.Context, username string) (*ScoreRecord, error) {
	ctx, span := tracer().Start(ctx, "Database.GetScore")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rec, err := scanScore(db.pg.QueryRow(ctx, ScoreByUsernameQuery, username))
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to load score: %w", err)
	}
	return rec, nil
}

type scoreTx struct {
	tx       pgx.Tx
	username string
}

func (s *scoreTx) GetScore(ctx context.Context) (*ScoreRecord, error) {
	rec, err := scanScore(s.tx.QueryRow(ctx, ScoreByUsernameForUpdateQuery, s.username))
	if err != nil {
		return nil, fmt.Errorf("failed to load score: %w", err)
	}
	return rec, nil
}

func (s *scoreTx) PutScore(ctx context.Context, r ScoreRecord) error {
	if r.Username != s.username {
		return fmt.Errorf("score for %q written in transaction for %q", r.Username, s.username)
	}
	_, err := s.tx.Exec(ctx, UpsertScoreQuery,
		r.Username,
		r.PullRequestsOpened,
		r.PullRequestsMerged,
		r.IssuesCreated,
		r.IssuesClosed,
		r.ReposContributedTo,
		r.StarredRepositories,
		r.CommitChanges,
		r.TotalScore,
		r.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert score failed: %w", err)
	}
	return nil
}

func (s *scoreTx) AppendActivity(ctx context.Context, e ActivityLogEntry) (int64, error) {
	var id int64
	if err := s.tx.QueryRow(ctx, InsertActivityQuery, s.username, e.Delta, e.Description, e.CreatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert activity failed: %w", err)
	}
	return id, nil
}

// UpdateScore runs fn in a transaction holding an advisory lock on username,
// so upserts for the same user never interleave. The transaction commits only
// when fn returns nil.
func (db *Database) UpdateScore(ctx context.Context, username string, fn func(ScoreTx) error) error {
	ctx, span := tracer().Start(ctx, "Database.UpdateScore")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	start := time.Now()
	err := pgx.BeginFunc(ctx, db.pg, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, LockUsernameQuery, username); err != nil {
			return fmt.Errorf("failed to lock %s: %w", username, err)
		}
		return fn(&scoreTx{tx: tx, username: username})
	})
	if err != nil {
		fail(span, err)
		return err
	}
	slog.DebugContext(ctx, "score transaction committed", "username", username, "took", time.Since(start))
	return nil
}

// ListLeaderboard returns scores ranked by total_score descending then username ascending.
func (db *Database) ListLeaderboard(ctx context.Context, args ListLeaderboardArgs) ([]LeaderboardEntry, error) {
	ctx, span := tracer().Start(ctx, "Database.ListLeaderboard")
	span.SetAttributes(attribute.Int("limit", args.Limit), attribute.Bool("include_zero", args.IncludeZero))
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	query, qargs, err := RenderListLeaderboardQuery(args, DollarPlaceholder)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "list leaderboard query", "sql", query, "args_len", len(qargs))
	rows, err := db.pg.Query(ctx, query, qargs...)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list leaderboard query failed: %w", err)
	}
	type entryRow struct {
		Username    string
		TotalScore  int64
		ProfileURL  string
		Name        string
		AvatarURL   string
		LastUpdated time.Time
	}
	scanned, err := pgx.CollectRows(rows, pgx.RowToStructByPos[entryRow])
	if err != nil {
		fail(span, err)
		return nil, err
	}
	out := make([]LeaderboardEntry, len(scanned))
	for i, r := range scanned {
		out[i] = LeaderboardEntry{
			Rank:        i + 1,
			Username:    r.Username,
			TotalScore:  r.TotalScore,
			ProfileURL:  r.ProfileURL,
			Name:        r.Name,
			AvatarURL:   r.AvatarURL,
			LastUpdated: r.LastUpdated,
		}
	}
	slog.DebugContext(ctx, "list leaderboard done", "entries", len(out))
	return out, nil
}

// ListActivity returns the newest activity entries of a user first.
func (db *Database) ListActivity(ctx context.Context, args ListActivityArgs) ([]ActivityLogEntry, error) {
	ctx, span := tracer().Start(ctx, "Database.ListActivity")
	span.SetAttributes(attribute.String("username", args.Username), attribute.Int("limit", args.Limit))
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.pg.Query(ctx, ActivityByUsernameQuery, args.Username, args.Limit)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list activity query failed: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ActivityLogEntry])
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return entries, nil
}
