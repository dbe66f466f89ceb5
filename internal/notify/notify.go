// Package notify delivers score change notifications.
package notify

import (
	"context"
	"log/slog"
	"time"

	"ghleaderboard.shikanime.studio/internal/config"
)

// ScoreChanged describes a committed score change.
type ScoreChanged struct {
	Username string
	Previous int64
	Current  int64
	Delta    int64
	// Unlocked names achievements unlocked by this change.
	Unlocked []string
	At       time.Time
}

// Notifier is implemented by anything that can deliver score notifications.
type Notifier interface {
	NotifyScoreChanged(ctx context.Context, ev ScoreChanged) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) NotifyScoreChanged(context.Context, ScoreChanged) error { return nil }

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) NotifyScoreChanged(ctx context.Context, ev ScoreChanged) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Score changed",
		"username", ev.Username,
		"previous", ev.Previous,
		"current", ev.Current,
		"delta", ev.Delta,
		"unlocked", ev.Unlocked,
		"at", ev.At,
	)
	return nil
}

// NewForConfig returns a Log notifier when notifications are enabled and Noop otherwise.
func NewForConfig(cfg *config.Config) Notifier {
	if cfg.GetNotificationsEnabled() {
		return Log{Logger: slog.Default().With("component", "notify")}
	}
	return Noop{}
}
