package rpc

import (
	"ghleaderboard.shikanime.studio/internal/achievement"
	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/leaderboard"
	"ghleaderboard.shikanime.studio/internal/view"
)

type GetLeaderboardRequest struct {
	Limit int `json:"limit,omitempty"`
}

type GetLeaderboardResponse struct {
	Entries []database.LeaderboardEntry `json:"entries"`
}

type GetScoreRequest struct {
	Username string `json:"username"`
}

type GetScoreResponse struct {
	Score *database.ScoreRecord `json:"score"`
}

// RefreshScoreRequest is empty: the user comes from the UserHeader.
type RefreshScoreRequest struct{}

type RefreshScoreResponse struct {
	Score   *database.ScoreRecord `json:"score,omitempty"`
	Delta   int64                 `json:"delta"`
	Warning string                `json:"warning,omitempty"`
}

type SubmitSnapshotRequest struct {
	Username string         `json:"username"`
	Snapshot map[string]any `json:"snapshot"`
}

type SubmitSnapshotResponse struct {
	Score *database.ScoreRecord `json:"score"`
	Delta int64                 `json:"delta"`
}

type GetAchievementsRequest struct {
	Username string `json:"username"`
}

type GetAchievementsResponse struct {
	Achievements []achievement.Result `json:"achievements"`
}

type ListActivityRequest struct {
	Username string `json:"username"`
	Limit    int    `json:"limit,omitempty"`
}

type ListActivityResponse struct {
	Entries []database.ActivityLogEntry `json:"entries"`
}

type CompareUsersRequest struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type CompareUsersResponse struct {
	Comparison *leaderboard.Comparison `json:"comparison"`
}

type RegisterRequest struct {
	ProfileURL string `json:"profile_url"`
}

type RegisterResponse struct {
	User *database.User `json:"user"`
}

type NavigateRequest struct {
	From view.View `json:"from"`
	To   view.View `json:"to"`
}

type NavigateResponse struct {
	View view.View   `json:"view"`
	Next []view.View `json:"next"`
}
