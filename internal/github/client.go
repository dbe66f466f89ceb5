package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v75/github"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/ptr"

	"ghleaderboard.shikanime.studio/internal/config"
	"ghleaderboard.shikanime.studio/internal/scoring"
)

// ErrUserNotFound is returned when GitHub has no account for the requested login.
var ErrUserNotFound = errors.New("github user not found")

// NewGitHubLimiter returns a rate limiter tuned for authenticated or unauthenticated GitHub API usage.
func NewGitHubLimiter(authenticated bool) *rate.Limiter {
	if authenticated {
		slog.Info("Created authenticated GitHub rate limiter", "rate", "5000 requests/hour", "burst", 10)
		return rate.NewLimiter(rate.Limit(5000.0/3600.0), 10)
	}
	slog.Info("Created unauthenticated GitHub rate limiter", "rate", "60 requests/hour", "burst", 1)
	return rate.NewLimiter(rate.Limit(60.0/3600.0), 1)
}

// Profile is the public identity of a GitHub account.
type Profile struct {
	Login      string
	Name       string
	AvatarURL  string
	ProfileURL string
}

// Client fetches contribution snapshots from the GitHub REST and Search APIs.
type Client struct {
	c        *github.Client
	l        *rate.Limiter
	maxRepos int
}

// GitHubClientOptions configures the GitHub client.
type GitHubClientOptions struct {
	token      string
	limiter    *rate.Limiter
	baseURL    string
	httpClient *http.Client
	maxRepos   int
}

// GitHubClientOption applies a configuration to GitHubClientOptions.
type GitHubClientOption func(*GitHubClientOptions)

// WithToken sets the personal access token for authenticated requests.
func WithToken(token string) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.token = token }
}

// WithLimiter sets the rate limiter used for API calls.
func WithLimiter(l *rate.Limiter) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.limiter = l }
}

// WithBaseURL points the client at another API root, such as a GitHub Enterprise host.
func WithBaseURL(u string) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.baseURL = u }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.httpClient = hc }
}

// WithMaxRepos caps how many owned repositories are scanned for commit counts.
func WithMaxRepos(n int) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.maxRepos = n }
}

// NewClient constructs a GitHub Client with the given options.
func NewClient(opts ...GitHubClientOption) (*Client, error) {
	o := GitHubClientOptions{maxRepos: 100}
	for _, opt := range opts {
		opt(&o)
	}
	gh := github.NewClient(o.httpClient)
	if o.token != "" {
		slog.Info("Using authenticated GitHub client")
		gh = gh.WithAuthToken(o.token)
	} else {
		slog.Warn("Using unauthenticated GitHub client (rate limited)")
	}
	if o.baseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		gh.BaseURL = base
	}
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{c: gh, l: o.limiter, maxRepos: o.maxRepos}, nil
}

// NewForConfig constructs a Client from the token and repository cap in cfg.
func NewForConfig(cfg *config.Config) (*Client, error) {
	token := cfg.GetGitHubToken()
	return NewClient(
		WithToken(token),
		WithLimiter(NewGitHubLimiter(token != "")),
		WithMaxRepos(cfg.GetGitHubMaxRepos()),
	)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

// GetProfile resolves login to its canonical GitHub profile.
func (c *Client) GetProfile(ctx context.Context, login string) (*Profile, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	u, resp, err := c.c.Users.Get(ctx, login)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", login, err)
	}
	canonical := ptr.Deref(u.Login, login)
	return &Profile{
		Login:      canonical,
		Name:       ptr.Deref(u.Name, ""),
		AvatarURL:  ptr.Deref(u.AvatarURL, ""),
		ProfileURL: ptr.Deref(u.HTMLURL, "https://github.com/"+canonical),
	}, nil
}

func (c *Client) searchCount(ctx context.Context, query string) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, _, err := c.c.Search.Issues(ctx, query, &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}})
	if err != nil {
		return 0, fmt.Errorf("search %q failed: %w", query, err)
	}
	return int64(res.GetTotal()), nil
}

func (c *Client) listRepos(ctx context.Context, login string) ([]*github.Repository, error) {
	var repos []*github.Repository
	opts := &github.RepositoryListByUserOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.c.Repositories.ListByUser(ctx, login, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories of %s: %w", login, err)
		}
		repos = append(repos, page...)
		if c.maxRepos > 0 && len(repos) >= c.maxRepos {
			return repos[:c.maxRepos], nil
		}
		if resp.NextPage == 0 {
			return repos, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) starredCount(ctx context.Context, login string) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	starred, resp, err := c.c.Activity.ListStarred(ctx, login, &github.ActivityListStarredOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list starred repositories of %s: %w", login, err)
	}
	// With one item per page the last page number is the total.
	if resp.LastPage > 0 {
		return int64(resp.LastPage), nil
	}
	return int64(len(starred)), nil
}

func (c *Client) contributions(ctx context.Context, login string, repo *github.Repository) (int64, error) {
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = login
	}
	name := repo.GetName()
	opts := &github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		if err := c.wait(ctx); err != nil {
			return 0, err
		}
		contributors, resp, err := c.c.Repositories.ListContributors(ctx, owner, name, opts)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict) {
				slog.DebugContext(ctx, "skipping repository without contributors", "owner", owner, "repo", name, "status", resp.StatusCode)
				return 0, nil
			}
			return 0, fmt.Errorf("failed to list contributors of %s/%s: %w", owner, name, err)
		}
		for _, ct := range contributors {
			if ct.GetLogin() == login {
				return int64(ct.GetContributions()), nil
			}
		}
		if resp.NextPage == 0 {
			return 0, nil
		}
		opts.Page = resp.NextPage
	}
}

// FetchSnapshot collects the contribution counters of login.
func (c *Client) FetchSnapshot(ctx context.Context, login string) (scoring.Snapshot, error) {
	start := time.Now()
	var s scoring.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, q := range []struct {
		query string
		dst   *int64
	}{
		{"type:pr author:" + login, &s.PullRequestsOpened},
		{"type:pr author:" + login + " is:merged", &s.PullRequestsMerged},
		{"type:issue author:" + login, &s.IssuesCreated},
		{"type:issue author:" + login + " is:closed", &s.IssuesClosed},
	} {
		g.Go(func() error {
			n, err := c.searchCount(gctx, q.query)
			if err != nil {
				return err
			}
			*q.dst = n
			return nil
		})
	}
	g.Go(func() error {
		n, err := c.starredCount(gctx, login)
		if err != nil {
			return err
		}
		s.StarredRepositories = n
		return nil
	})
	var commits atomic.Int64
	g.Go(func() error {
		repos, err := c.listRepos(gctx, login)
		if err != nil {
			return err
		}
		s.ReposContributedTo = int64(len(repos))
		cg, cctx := errgroup.WithContext(gctx)
		cg.SetLimit(4)
		for _, r := range repos {
			cg.Go(func() error {
				n, err := c.contributions(cctx, login, r)
				if err != nil {
					return err
				}
				commits.Add(n)
				return nil
			})
		}
		return cg.Wait()
	})
	if err := g.Wait(); err != nil {
		return scoring.Snapshot{}, err
	}
	s.CommitChanges = commits.Load()
	slog.InfoContext(ctx, "Fetched GitHub snapshot", "login", login, "took", time.Since(start), "score", scoring.Compute(s))
	return s, nil
}
