package leaderboard

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/github"
	"ghleaderboard.shikanime.studio/internal/scoring"
)

// memStore is an in-memory Store used by the service tests.
type memStore struct {
	mu        sync.Mutex
	users     map[string]database.User
	scores    map[string]database.ScoreRecord
	initial   map[string]int64
	activity  []database.ActivityLogEntry
	nextID    int64
	down      error
	listCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[string]database.User{},
		scores:  map[string]database.ScoreRecord{},
		initial: map[string]int64{},
	}
}

func (m *memStore) setDown(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

func (m *memStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.down
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateUser(_ context.Context, u database.User) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, m.down
	}
	if _, ok := m.users[u.Username]; ok {
		return nil, database.ErrDuplicate
	}
	for _, other := range m.users {
		if other.ProfileURL == u.ProfileURL {
			return nil, database.ErrDuplicate
		}
	}
	m.users[u.Username] = u
	return &u, nil
}

func (m *memStore) GetUser(_ context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, m.down
	}
	u, ok := m.users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) ListUsers(context.Context) ([]database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, m.down
	}
	var out []database.User
	for _, u := range m.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b database.User) int { return cmp.Compare(a.Username, b.Username) })
	return out, nil
}

func (m *memStore) GetScore(_ context.Context, username string) (*database.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, m.down
	}
	r, ok := m.scores[username]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type memTx struct {
	m        *memStore
	username string
	put      *database.ScoreRecord
	appended []database.ActivityLogEntry
}

func (t *memTx) GetScore(context.Context) (*database.ScoreRecord, error) {
	if t.put != nil {
		r := *t.put
		return &r, nil
	}
	r, ok := t.m.scores[t.username]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) PutScore(_ context.Context, r database.ScoreRecord) error {
	t.put = &r
	return nil
}

func (t *memTx) AppendActivity(_ context.Context, e database.ActivityLogEntry) (int64, error) {
	e.Username = t.username
	t.appended = append(t.appended, e)
	return int64(len(t.appended)), nil
}

// UpdateScore holds the store lock for the whole transaction and applies
// staged writes only when fn succeeds.
func (m *memStore) UpdateScore(ctx context.Context, username string, fn func(database.ScoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return m.down
	}
	tx := &memTx{m: m, username: username}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.put != nil {
		if _, ok := m.scores[username]; !ok {
			m.initial[username] = tx.put.TotalScore
		}
		m.scores[username] = *tx.put
	}
	for _, e := range tx.appended {
		m.nextID++
		e.ID = m.nextID
		m.activity = append(m.activity, e)
	}
	return nil
}

func (m *memStore) ListLeaderboard(_ context.Context, args database.ListLeaderboardArgs) ([]database.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.down != nil {
		return nil, m.down
	}
	var out []database.LeaderboardEntry
	for _, s := range m.scores {
		if !args.IncludeZero && s.TotalScore <= 0 {
			continue
		}
		e := database.LeaderboardEntry{Username: s.Username, TotalScore: s.TotalScore, LastUpdated: s.LastUpdated}
		if u, ok := m.users[s.Username]; ok {
			e.ProfileURL, e.Name, e.AvatarURL = u.ProfileURL, u.Name, u.AvatarURL
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b database.LeaderboardEntry) int {
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	if len(out) > args.Limit {
		out = out[:args.Limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (m *memStore) ListActivity(_ context.Context, args database.ListActivityArgs) ([]database.ActivityLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, m.down
	}
	var out []database.ActivityLogEntry
	for i := len(m.activity) - 1; i >= 0 && len(out) < args.Limit; i-- {
		if m.activity[i].Username == args.Username {
			out = append(out, m.activity[i])
		}
	}
	return out, nil
}

func (m *memStore) deltaSum(username string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.activity {
		if e.Username == username {
			sum += e.Delta
		}
	}
	return sum
}

func (m *memStore) activityCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activity)
}

// fakeFetcher serves canned snapshots and profiles.
type fakeFetcher struct {
	mu        sync.Mutex
	snapshots map[string]scoring.Snapshot
	errs      map[string]error
	block     bool
	calls     int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{snapshots: map[string]scoring.Snapshot{}, errs: map[string]error{}}
}

func (f *fakeFetcher) set(login string, s scoring.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[login] = s
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, login string) (scoring.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	err := f.errs[login]
	s := f.snapshots[login]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return scoring.Snapshot{}, ctx.Err()
	}
	if err != nil {
		return scoring.Snapshot{}, err
	}
	return s, nil
}

func (f *fakeFetcher) GetProfile(_ context.Context, login string) (*github.Profile, error) {
	if login == "ghost" {
		return nil, github.ErrUserNotFound
	}
	return &github.Profile{
		Login:      login,
		Name:       "Name of " + login,
		ProfileURL: "https://github.com/" + login,
	}, nil
}
