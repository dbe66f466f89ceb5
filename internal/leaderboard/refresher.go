package leaderboard

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"ghleaderboard.shikanime.studio/internal/config"
)

// Refresher periodically refreshes every registered user, pausing between
// users to stay inside the GitHub rate limits.
type Refresher struct {
	lb       *Leaderboard
	interval time.Duration
	delay    time.Duration
}

// RefreshReport summarizes one batch.
type RefreshReport struct {
	Refreshed int
	Skipped   int
	Changed   int
}

func NewRefresher(lb *Leaderboard, interval, delay time.Duration) *Refresher {
	return &Refresher{lb: lb, interval: interval, delay: delay}
}

func NewRefresherForConfig(lb *Leaderboard, cfg *config.Config) *Refresher {
	return NewRefresher(lb, cfg.GetRefreshInterval(), cfg.GetRefreshDelay())
}

// RunOnce refreshes every registered user. A failing user is logged and
// skipped; only a failure to list users aborts the batch.
func (r *Refresher) RunOnce(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport
	users, err := r.lb.store.ListUsers(ctx)
	if err != nil {
		return report, storeErr("list users", err)
	}
	limit := rate.Inf
	if r.delay > 0 {
		limit = rate.Every(r.delay)
	}
	pacer := rate.NewLimiter(limit, 1)
	start := time.Now()
	for _, u := range users {
		if err := pacer.Wait(ctx); err != nil {
			return report, err
		}
		_, delta, err := r.lb.Refresh(ctx, u.Username)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			slog.WarnContext(ctx, "Skipping user refresh", "username", u.Username, "error", err)
			report.Skipped++
			continue
		}
		report.Refreshed++
		if delta != 0 {
			report.Changed++
		}
	}
	slog.InfoContext(ctx, "Refresh batch done",
		"users", len(users),
		"refreshed", report.Refreshed,
		"skipped", report.Skipped,
		"changed", report.Changed,
		"took", time.Since(start),
	)
	return report, nil
}

// Run calls RunOnce immediately and then on every interval until ctx is done.
// A non-positive interval disables the loop.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		slog.InfoContext(ctx, "Background refresh disabled")
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.ErrorContext(ctx, "Refresh batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
