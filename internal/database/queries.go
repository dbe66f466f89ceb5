package database

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var InsertUserQuery = strings.Join([]string{
	"INSERT INTO users (username, profile_url, name, avatar_url)",
	"VALUES ($1, $2, $3, $4)",
	"ON CONFLICT DO NOTHING",
	"RETURNING username, profile_url, name, avatar_url, created_at",
}, " ")

var UserByUsernameQuery = strings.Join([]string{
	"SELECT username, profile_url, name, avatar_url, created_at",
	"FROM users",
	"WHERE username=$1",
}, " ")

var ListUsersQuery = strings.Join([]string{
	"SELECT username, profile_url, name, avatar_url, created_at",
	"FROM users",
	"ORDER BY username ASC",
}, " ")

var LockUsernameQuery = "SELECT pg_advisory_xact_lock(hashtext($1))"

var scoreColumns = strings.Join([]string{
	"username,",
	"pull_requests_opened, pull_requests_merged, issues_created, issues_closed,",
	"repos_contributed_to, starred_repositories, commit_changes,",
	"total_score, last_updated",
}, " ")

var ScoreByUsernameQuery = strings.Join([]string{
	"SELECT", scoreColumns,
	"FROM scores",
	"WHERE username=$1",
}, " ")

var ScoreByUsernameForUpdateQuery = ScoreByUsernameQuery + " FOR UPDATE"

var UpsertScoreQuery = strings.Join([]string{
	"INSERT INTO scores (", scoreColumns, ")",
	"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
	"ON CONFLICT (username)",
	"DO UPDATE SET",
	"pull_requests_opened = EXCLUDED.pull_requests_opened,",
	"pull_requests_merged = EXCLUDED.pull_requests_merged,",
	"issues_created = EXCLUDED.issues_created,",
	"issues_closed = EXCLUDED.issues_closed,",
	"repos_contributed_to = EXCLUDED.repos_contributed_to,",
	"starred_repositories = EXCLUDED.starred_repositories,",
	"commit_changes = EXCLUDED.commit_changes,",
	"total_score = EXCLUDED.total_score,",
	"last_updated = EXCLUDED.last_updated",
}, " ")

var InsertActivityQuery = strings.Join([]string{
	"INSERT INTO activity_log (username, delta, description, created_at)",
	"VALUES ($1, $2, $3, $4)",
	"RETURNING id",
}, " ")

var ActivityByUsernameQuery = strings.Join([]string{
	"SELECT id, username, delta, description, created_at",
	"FROM activity_log",
	"WHERE username=$1",
	"ORDER BY created_at DESC, id DESC",
	"LIMIT $2",
}, " ")

var listLeaderboardQueryTmpl = template.Must(
	template.New("listLeaderboard").Parse(strings.Join([]string{
		"SELECT s.username, s.total_score,",
		"COALESCE(u.profile_url, ''), COALESCE(u.name, ''), COALESCE(u.avatar_url, ''),",
		"s.last_updated",
		"FROM scores s",
		"LEFT JOIN users u ON u.username = s.username",
		"{{if not .IncludeZero}}WHERE s.total_score > 0{{end}}",
		"ORDER BY s.total_score DESC, s.username ASC",
		"LIMIT {{.LimitPlaceholder}}",
	}, " ")),
)

// RenderListLeaderboardQuery builds SQL and args for the ranked leaderboard.
// placeholder formats the n-th positional parameter for the target engine.
func RenderListLeaderboardQuery(args ListLeaderboardArgs, placeholder func(n int) string) (string, []any, error) {
	if args.Limit <= 0 {
		return "", nil, fmt.Errorf("invalid leaderboard limit %d", args.Limit)
	}
	var buf bytes.Buffer
	if err := listLeaderboardQueryTmpl.Execute(&buf, map[string]any{
		"IncludeZero":      args.IncludeZero,
		"LimitPlaceholder": placeholder(1),
	}); err != nil {
		return "", nil, err
	}
	return buf.String(), []any{args.Limit}, nil
}

// DollarPlaceholder renders Postgres positional parameters.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
