package database

import (
	"context"
	"errors"
	"time"

	"ghleaderboard.shikanime.studio/internal/scoring"
)

// ErrDuplicate is returned when an insert collides with a unique username or profile URL.
var ErrDuplicate = errors.New("duplicate record")

type User struct {
	Username   string    `json:"username"`
	ProfileURL string    `json:"profile_url"`
	Name       string    `json:"name,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoreRecord is the latest counters of a user and the score derived from them.
type ScoreRecord struct {
	Username string `json:"username"`
	scoring.Snapshot
	TotalScore  int64     `json:"total_score"`
	LastUpdated time.Time `json:"last_updated"`
}

type ActivityLogEntry struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Delta       int64     `json:"delta"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	Username    string    `json:"username"`
	TotalScore  int64     `json:"total_score"`
	ProfileURL  string    `json:"profile_url,omitempty"`
	Name        string    `json:"name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

type ListLeaderboardArgs struct {
	Limit       int
	IncludeZero bool
}

type ListActivityArgs struct {
	Username string
	Limit    int
}

// ScoreTx is a transaction scoped to a single username.
// The username is locked for the lifetime of the transaction.
type ScoreTx interface {
	// GetScore returns the locked record, or nil when the user has none yet.
	GetScore(ctx context.Context) (*ScoreRecord, error)
	PutScore(ctx context.Context, rec ScoreRecord) error
	AppendActivity(ctx context.Context, entry ActivityLogEntry) (int64, error)
}
