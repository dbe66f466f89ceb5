// Package achievement evaluates gamified badges against a user's stored counters.
package achievement

import "ghleaderboard.shikanime.studio/internal/scoring"

// Achievement is a fixed catalog entry unlocked once Field reaches Threshold.
type Achievement struct {
	Name      string
	Icon      string
	Field     string
	Threshold int64
}

// Catalog is the ordered list of achievements. Order is part of the contract.
var Catalog = []Achievement{
	{Name: "PR Master", Icon: "🔀", Field: scoring.PullRequestsMerged, Threshold: 50},
	{Name: "Bug Hunter", Icon: "🐛", Field: scoring.IssuesClosed, Threshold: 25},
	{Name: "Code Warrior", Icon: "⚔️", Field: scoring.CommitChanges, Threshold: 1000},
	{Name: "Star Gazer", Icon: "⭐", Field: scoring.StarredRepositories, Threshold: 100},
	{Name: "Open Source Hero", Icon: "🚀", Field: scoring.ReposContributedTo, Threshold: 20},
	{Name: "Issue Creator", Icon: "📝", Field: scoring.IssuesCreated, Threshold: 50},
	{Name: "PR Opener", Icon: "📤", Field: scoring.PullRequestsOpened, Threshold: 100},
}

// Result is the evaluation of one catalog entry.
type Result struct {
	Name      string  `json:"name"`
	Icon      string  `json:"icon"`
	Field     string  `json:"field"`
	Unlocked  bool    `json:"unlocked"`
	Current   int64   `json:"current"`
	Threshold int64   `json:"threshold"`
	Progress  float64 `json:"progress"`
}

// Remaining is how many more units are needed to unlock; 0 once unlocked.
func (r Result) Remaining() int64 {
	if r.Unlocked {
		return 0
	}
	return r.Threshold - r.Current
}

// Evaluate checks s against Catalog.
func Evaluate(s scoring.Snapshot) []Result {
	return EvaluateCatalog(Catalog, s)
}

// EvaluateCatalog checks s against catalog, preserving catalog order.
func EvaluateCatalog(catalog []Achievement, s scoring.Snapshot) []Result {
	out := make([]Result, 0, len(catalog))
	for _, a := range catalog {
		cur := s.Get(a.Field)
		out = append(out, Result{
			Name:      a.Name,
			Icon:      a.Icon,
			Field:     a.Field,
			Unlocked:  cur >= a.Threshold,
			Current:   cur,
			Threshold: a.Threshold,
			Progress:  progress(cur, a.Threshold),
		})
	}
	return out
}

func progress(cur, threshold int64) float64 {
	if cur >= threshold {
		return 100
	}
	p := 100 * float64(cur) / float64(threshold)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Unlocked filters rs down to unlocked entries.
func Unlocked(rs []Result) []Result {
	var out []Result
	for _, r := range rs {
		if r.Unlocked {
			out = append(out, r)
		}
	}
	return out
}
