package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ghleaderboard.shikanime.studio/internal/achievement"
	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/github"
	"ghleaderboard.shikanime.studio/internal/notify"
	"ghleaderboard.shikanime.studio/internal/scoring"
)

var tracer = otel.Tracer("ghleaderboard/leaderboard")

// Upsert records snapshot as the latest state of username and returns the new
// record with the change in total score. An activity entry is appended in the
// same transaction when a previous record existed and the score moved.
func (lb *Leaderboard) Upsert(ctx context.Context, username string, snapshot scoring.Snapshot) (*database.ScoreRecord, int64, error) {
	ctx, span := tracer.Start(ctx, "Leaderboard.Upsert")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	if username == "" {
		return nil, 0, ErrInvalidUsername
	}

	total := scoring.Compute(snapshot)
	var (
		rec   database.ScoreRecord
		prev  *database.ScoreRecord
		delta int64
	)
	err := lb.store.UpdateScore(ctx, username, func(tx database.ScoreTx) error {
		var err error
		prev, err = tx.GetScore(ctx)
		if err != nil {
			return err
		}
		now := lb.clock.Now().UTC()
		var prevTotal int64
		if prev != nil {
			prevTotal = prev.TotalScore
			if prev.LastUpdated.After(now) {
				now = prev.LastUpdated
			}
		}
		rec = database.ScoreRecord{
			Username:    username,
			Snapshot:    snapshot,
			TotalScore:  total,
			LastUpdated: now,
		}
		if err := tx.PutScore(ctx, rec); err != nil {
			return err
		}
		delta = total - prevTotal
		if prev == nil || delta == 0 {
			return nil
		}
		_, err = tx.AppendActivity(ctx, database.ActivityLogEntry{
			Username:    username,
			Delta:       delta,
			Description: fmt.Sprintf("score updated to %d", total),
			CreatedAt:   now,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, storeErr("upsert", err)
	}
	span.SetAttributes(attribute.Int64("total_score", total), attribute.Int64("delta", delta))
	slog.DebugContext(ctx, "score upserted", "username", username, "total_score", total, "delta", delta, "created", prev == nil)

	if prev != nil && delta != 0 {
		lb.notifyChange(ctx, prev, &rec, delta)
	}
	return &rec, delta, nil
}

func (lb *Leaderboard) notifyChange(ctx context.Context, prev, cur *database.ScoreRecord, delta int64) {
	before := achievement.Evaluate(prev.Snapshot)
	var unlocked []string
	for i, r := range achievement.Evaluate(cur.Snapshot) {
		if r.Unlocked && !before[i].Unlocked {
			unlocked = append(unlocked, r.Name)
		}
	}
	err := lb.notifier.NotifyScoreChanged(ctx, notify.ScoreChanged{
		Username: cur.Username,
		Previous: prev.TotalScore,
		Current:  cur.TotalScore,
		Delta:    delta,
		Unlocked: unlocked,
		At:       cur.LastUpdated,
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to send score notification", "username", cur.Username, "error", err)
	}
}

// Refresh fetches a fresh snapshot of a registered user and upserts it. When
// the fetch fails the stored record is untouched and a *SnapshotFetchError is
// returned. A successful refresh drops the cached leaderboard.
func (lb *Leaderboard) Refresh(ctx context.Context, username string) (*database.ScoreRecord, int64, error) {
	ctx, span := tracer.Start(ctx, "Leaderboard.Refresh")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()
	if username == "" {
		return nil, 0, ErrInvalidUsername
	}
	u, err := lb.store.GetUser(ctx, username)
	if err != nil {
		return nil, 0, storeErr("refresh", err)
	}
	if u == nil {
		return nil, 0, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}

	fctx, cancel := context.WithTimeout(ctx, lb.opts.fetchTimeout)
	snapshot, err := lb.fetcher.FetchSnapshot(fctx, username)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "Failed to fetch snapshot", "username", username, "error", err)
		return nil, 0, &SnapshotFetchError{Username: username, Err: err}
	}

	rec, delta, err := lb.Upsert(ctx, username, snapshot)
	if err != nil {
		return nil, 0, err
	}
	lb.cache.InvalidateAll()
	return rec, delta, nil
}

// Leaderboard returns up to limit entries ordered by score then username.
// A non-positive limit uses the configured default.
func (lb *Leaderboard) Leaderboard(ctx context.Context, limit int) ([]database.LeaderboardEntry, error) {
	ctx, span := tracer.Start(ctx, "Leaderboard.Leaderboard")
	defer span.End()
	if limit <= 0 {
		limit = lb.opts.limit
	}
	span.SetAttributes(attribute.Int("limit", limit))
	entries, err := lb.cache.GetOrLoad(ctx, limit, func(ctx context.Context) ([]database.LeaderboardEntry, error) {
		return lb.store.ListLeaderboard(ctx, database.ListLeaderboardArgs{
			Limit:       limit,
			IncludeZero: lb.opts.includeZero,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, storeErr("leaderboard", err)
	}
	return slices.Clone(entries), nil
}

// Score returns the stored record of username.
func (lb *Leaderboard) Score(ctx context.Context, username string) (*database.ScoreRecord, error) {
	rec, err := lb.store.GetScore(ctx, username)
	if err != nil {
		return nil, storeErr("score", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("score of %s: %w", username, ErrNotFound)
	}
	return rec, nil
}

// Achievements evaluates the achievement catalog against the stored record of username.
func (lb *Leaderboard) Achievements(ctx context.Context, username string) ([]achievement.Result, error) {
	rec, err := lb.Score(ctx, username)
	if err != nil {
		return nil, err
	}
	return achievement.Evaluate(rec.Snapshot), nil
}

// Activity returns the newest activity entries of username first.
func (lb *Leaderboard) Activity(ctx context.Context, username string, limit int) ([]database.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = lb.opts.activity
	}
	entries, err := lb.store.ListActivity(ctx, database.ListActivityArgs{Username: username, Limit: limit})
	if err != nil {
		return nil, storeErr("activity", err)
	}
	return entries, nil
}

// Comparison puts two score records side by side.
type Comparison struct {
	Left   database.ScoreRecord `json:"left"`
	Right  database.ScoreRecord `json:"right"`
	Winner string               `json:"winner,omitempty"`
	Margin int64                `json:"margin"`
}

// Compare returns the stored records of a and b with the leader and the score gap.
func (lb *Leaderboard) Compare(ctx context.Context, a, b string) (*Comparison, error) {
	left, err := lb.Score(ctx, a)
	if err != nil {
		return nil, err
	}
	right, err := lb.Score(ctx, b)
	if err != nil {
		return nil, err
	}
	c := &Comparison{Left: *left, Right: *right, Margin: left.TotalScore - right.TotalScore}
	switch {
	case c.Margin > 0:
		c.Winner = left.Username
	case c.Margin < 0:
		c.Winner = right.Username
		c.Margin = -c.Margin
	}
	return c, nil
}

// Register creates a user from a GitHub profile URL after checking the account exists.
func (lb *Leaderboard) Register(ctx context.Context, profileURL string) (*database.User, error) {
	ctx, span := tracer.Start(ctx, "Leaderboard.Register")
	defer span.End()
	login, err := github.ParseProfileURL(profileURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfileURL, err)
	}
	span.SetAttributes(attribute.String("login", login))
	p, err := lb.fetcher.GetProfile(ctx, login)
	if err != nil {
		if errors.Is(err, github.ErrUserNotFound) {
			return nil, fmt.Errorf("github user %s: %w", login, ErrNotFound)
		}
		return nil, &SnapshotFetchError{Username: login, Err: err}
	}
	u, err := lb.store.CreateUser(ctx, database.User{
		Username:   p.Login,
		ProfileURL: p.ProfileURL,
		Name:       p.Name,
		AvatarURL:  p.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, fmt.Errorf("%s: %w", p.Login, ErrUserExists)
		}
		return nil, storeErr("register", err)
	}
	slog.InfoContext(ctx, "User registered", "username", u.Username)
	return u, nil
}
