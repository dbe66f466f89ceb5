package datastore

// Schema is the SQLite schema, equivalent to the Postgres migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	profile_url TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
	username TEXT PRIMARY KEY,
	pull_requests_opened INTEGER NOT NULL DEFAULT 0 CHECK (pull_requests_opened >= 0),
	pull_requests_merged INTEGER NOT NULL DEFAULT 0 CHECK (pull_requests_merged >= 0),
	issues_created INTEGER NOT NULL DEFAULT 0 CHECK (issues_created >= 0),
	issues_closed INTEGER NOT NULL DEFAULT 0 CHECK (issues_closed >= 0),
	repos_contributed_to INTEGER NOT NULL DEFAULT 0 CHECK (repos_contributed_to >= 0),
	starred_repositories INTEGER NOT NULL DEFAULT 0 CHECK (starred_repositories >= 0),
	commit_changes INTEGER NOT NULL DEFAULT 0 CHECK (commit_changes >= 0),
	total_score INTEGER NOT NULL DEFAULT 0,
	last_updated DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS scores_rank_idx ON scores (total_score DESC, username ASC);

CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	delta INTEGER NOT NULL,
	description TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS activity_log_username_idx ON activity_log (username, created_at DESC);
`

const scoreColumns = `username,
	pull_requests_opened, pull_requests_merged, issues_created, issues_closed,
	repos_contributed_to, starred_repositories, commit_changes,
	total_score, last_updated`

const selectScoreQuery = `SELECT ` + scoreColumns + ` FROM scores WHERE username = ?`

const upsertScoreQuery = `
	INSERT INTO scores (` + scoreColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET
		pull_requests_opened = excluded.pull_requests_opened,
		pull_requests_merged = excluded.pull_requests_merged,
		issues_created = excluded.issues_created,
		issues_closed = excluded.issues_closed,
		repos_contributed_to = excluded.repos_contributed_to,
		starred_repositories = excluded.starred_repositories,
		commit_changes = excluded.commit_changes,
		total_score = excluded.total_score,
		last_updated = excluded.last_updated
`
