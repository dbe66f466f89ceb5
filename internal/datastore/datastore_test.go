package datastore

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/scoring"
)

func newStore(t *testing.T) *SQLiteDatastore {
	t.Helper()
	s, err := OpenSQLiteDatastore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Init())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func putScore(t *testing.T, s *SQLiteDatastore, username string, total int64) {
	t.Helper()
	err := s.UpdateScore(context.Background(), username, func(tx database.ScoreTx) error {
		return tx.PutScore(context.Background(), database.ScoreRecord{
			Username:    username,
			Snapshot:    scoring.Snapshot{PullRequestsOpened: total},
			TotalScore:  total,
			LastUpdated: time.Now(),
		})
	})
	require.NoError(t, err)
}

func TestPathFromDSN(t *testing.T) {
	for raw, want := range map[string]string{
		"sqlite3:///tmp/board.db":      "/tmp/board.db",
		"sqlite3://board.db":           "board.db",
		"sqlite3://./data/board.db":    "./data/board.db",
		"sqlite3://board.db?_fk=1":     "board.db?_fk=1",
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, PathFromDSN(u), raw)
	}
}

func TestCreateUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, database.User{Username: "alice", ProfileURL: "https://github.com/alice", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.False(t, u.CreatedAt.IsZero())

	_, err = s.CreateUser(ctx, database.User{Username: "alice", ProfileURL: "https://github.com/alice2"})
	assert.ErrorIs(t, err, database.ErrDuplicate)
	_, err = s.CreateUser(ctx, database.User{Username: "alice2", ProfileURL: "https://github.com/alice"})
	assert.ErrorIs(t, err, database.ErrDuplicate)

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	missing, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestUpdateScoreRollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.UpdateScore(ctx, "alice", func(tx database.ScoreTx) error {
		require.NoError(t, tx.PutScore(ctx, database.ScoreRecord{Username: "alice", TotalScore: 5, LastUpdated: time.Now()}))
		_, err := tx.AppendActivity(ctx, database.ActivityLogEntry{Delta: 5, Description: "x", CreatedAt: time.Now()})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := s.GetScore(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
	entries, err := s.ListActivity(ctx, database.ListActivityArgs{Username: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdateScoreReplacesRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	putScore(t, s, "alice", 10)
	putScore(t, s, "alice", 12)

	err := s.UpdateScore(ctx, "alice", func(tx database.ScoreTx) error {
		rec, err := tx.GetScore(ctx)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(12), rec.TotalScore)
		assert.Equal(t, int64(12), rec.PullRequestsOpened)
		return nil
	})
	require.NoError(t, err)

	err = s.UpdateScore(ctx, "alice", func(tx database.ScoreTx) error {
		return tx.PutScore(ctx, database.ScoreRecord{Username: "bob"})
	})
	assert.Error(t, err)
}

func TestListLeaderboard(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, database.User{Username: "carol", ProfileURL: "https://github.com/carol"})
	require.NoError(t, err)
	putScore(t, s, "carol", 62)
	putScore(t, s, "bob", 62)
	putScore(t, s, "alice", 100)
	putScore(t, s, "zed", 0)

	entries, err := s.ListLeaderboard(ctx, database.ListLeaderboardArgs{Limit: 10, IncludeZero: true})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	var names []string
	for _, e := range entries {
		names = append(names, e.Username)
	}
	assert.Equal(t, []string{"alice", "bob", "carol", "zed"}, names)
	assert.Equal(t, 3, entries[2].Rank)
	assert.Equal(t, "https://github.com/carol", entries[2].ProfileURL)
	assert.Empty(t, entries[1].ProfileURL)

	entries, err = s.ListLeaderboard(ctx, database.ListLeaderboardArgs{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[1].Username)

	entries, err = s.ListLeaderboard(ctx, database.ListLeaderboardArgs{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestListActivityNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := s.UpdateScore(ctx, "alice", func(tx database.ScoreTx) error {
		for i := 1; i <= 3; i++ {
			if _, err := tx.AppendActivity(ctx, database.ActivityLogEntry{
				Delta:       int64(i),
				Description: "d",
				CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	entries, err := s.ListActivity(ctx, database.ListActivityArgs{Username: "alice", Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].Delta)
	assert.Equal(t, int64(2), entries[1].Delta)
	assert.Equal(t, "alice", entries[0].Username)
}

func TestStoreMethodsAreTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	_, err := s.CreateUser(ctx, database.User{Username: "alice", ProfileURL: "https://github.com/alice"})
	require.NoError(t, err)
	_, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	_, err = s.ListUsers(ctx)
	require.NoError(t, err)
	putScore(t, s, "alice", 3)
	_, err = s.GetScore(ctx, "alice")
	require.NoError(t, err)
	_, err = s.ListLeaderboard(ctx, database.ListLeaderboardArgs{Limit: 10, IncludeZero: true})
	require.NoError(t, err)
	_, err = s.ListActivity(ctx, database.ListActivityArgs{Username: "alice", Limit: 10})
	require.NoError(t, err)

	var names []string
	for _, sp := range rec.Ended() {
		names = append(names, sp.Name())
	}
	assert.ElementsMatch(t, []string{
		"SQLiteDatastore.Ping",
		"SQLiteDatastore.CreateUser",
		"SQLiteDatastore.GetUser",
		"SQLiteDatastore.ListUsers",
		"SQLiteDatastore.UpdateScore",
		"SQLiteDatastore.GetScore",
		"SQLiteDatastore.ListLeaderboard",
		"SQLiteDatastore.ListActivity",
	}, names)
}

func TestEmptyListsAreNotNil(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	entries, err := s.ListLeaderboard(ctx, database.ListLeaderboardArgs{Limit: 10, IncludeZero: true})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	feed, err := s.ListActivity(ctx, database.ListActivityArgs{Username: "nobody", Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, feed)
	assert.Empty(t, feed)
}
