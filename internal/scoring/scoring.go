// Package scoring turns raw GitHub activity counters into a single comparable score.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Counter names as exchanged with the GitHub-data collaborator and stored in the scores table.
const (
	PullRequestsOpened  = "pull_requests_opened"
	PullRequestsMerged  = "pull_requests_merged"
	IssuesCreated       = "issues_created"
	IssuesClosed        = "issues_closed"
	ReposContributedTo  = "repos_contributed_to"
	StarredRepositories = "starred_repositories"
	CommitChanges       = "commit_changes"
)

// Fields lists every snapshot counter in storage order.
var Fields = []string{
	PullRequestsOpened,
	PullRequestsMerged,
	IssuesCreated,
	IssuesClosed,
	ReposContributedTo,
	StarredRepositories,
	CommitChanges,
}

// Snapshot is a point-in-time set of raw contribution counters for one user.
type Snapshot struct {
	PullRequestsOpened  int64 `json:"pull_requests_opened"`
	PullRequestsMerged  int64 `json:"pull_requests_merged"`
	IssuesCreated       int64 `json:"issues_created"`
	IssuesClosed        int64 `json:"issues_closed"`
	ReposContributedTo  int64 `json:"repos_contributed_to"`
	StarredRepositories int64 `json:"starred_repositories"`
	CommitChanges       int64 `json:"commit_changes"`
}

// Weights applied to each counter. Commits are divided by CommitDivisor and floored instead.
const (
	WeightPullRequestsOpened  = 1
	WeightPullRequestsMerged  = 2
	WeightIssuesCreated       = 1
	WeightIssuesClosed        = 2
	WeightReposContributedTo  = 1
	WeightStarredRepositories = 1
	CommitDivisor             = 10
)

// Compute returns the weighted score of s.
// The commit term is floored on its own before it is added to the rest.
func Compute(s Snapshot) int64 {
	return s.PullRequestsOpened*WeightPullRequestsOpened +
		s.PullRequestsMerged*WeightPullRequestsMerged +
		s.IssuesCreated*WeightIssuesCreated +
		s.IssuesClosed*WeightIssuesClosed +
		s.ReposContributedTo*WeightReposContributedTo +
		s.StarredRepositories*WeightStarredRepositories +
		floorDiv(s.CommitChanges, CommitDivisor)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Get returns the counter named field, or 0 for an unknown name.
func (s Snapshot) Get(field string) int64 {
	switch field {
	case PullRequestsOpened:
		return s.PullRequestsOpened
	case PullRequestsMerged:
		return s.PullRequestsMerged
	case IssuesCreated:
		return s.IssuesCreated
	case IssuesClosed:
		return s.IssuesClosed
	case ReposContributedTo:
		return s.ReposContributedTo
	case StarredRepositories:
		return s.StarredRepositories
	case CommitChanges:
		return s.CommitChanges
	}
	return 0
}

func (s *Snapshot) set(field string, v int64) {
	switch field {
	case PullRequestsOpened:
		s.PullRequestsOpened = v
	case PullRequestsMerged:
		s.PullRequestsMerged = v
	case IssuesCreated:
		s.IssuesCreated = v
	case IssuesClosed:
		s.IssuesClosed = v
	case ReposContributedTo:
		s.ReposContributedTo = v
	case StarredRepositories:
		s.StarredRepositories = v
	case CommitChanges:
		s.CommitChanges = v
	}
}

// InvalidSnapshotError reports a counter that could not be coerced to a non-negative integer.
type InvalidSnapshotError struct {
	Field string
	Value any
}

func (e *InvalidSnapshotError) Error() string {
	return fmt.Sprintf("invalid snapshot: %s must be a non-negative integer, got %v", e.Field, e.Value)
}

// ParseSnapshot builds a Snapshot from raw collaborator data.
// Absent keys default to 0 and unknown keys are ignored. Negative, fractional
// or non-numeric values fail with *InvalidSnapshotError.
func ParseSnapshot(raw map[string]any) (Snapshot, error) {
	var s Snapshot
	for _, field := range Fields {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		n, ok := toCount(v)
		if !ok {
			return Snapshot{}, &InvalidSnapshotError{Field: field, Value: v}
		}
		s.set(field, n)
	}
	return s, nil
}

func toCount(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n >= 0
	case int32:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n < 0 || n != math.Trunc(n) || n >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i >= 0
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil && i >= 0
	}
	return 0, false
}
