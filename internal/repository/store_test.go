package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var storeNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(id string) *match.Session {
	alice := &match.PlayerState{PlayerID: "alice", Faction: catalog.FactionHuman, Resources: 5}
	bob := &match.PlayerState{PlayerID: "bob", Faction: catalog.FactionAlien}
	s := match.NewSession(id, alice, bob, time.Minute, storeNow)
	s.Status = match.StatusActive
	s.CurrentPlayer = "alice"
	s.Phase = match.PhaseActions
	s.Turn = 1
	return s
}

func newStore(t *testing.T, repo Repository) *SessionStore {
	return NewSessionStore(repo, StoreOptions{
		CacheSize: 8,
		Now:       func() time.Time { return storeNow },
		Logger:    zaptest.NewLogger(t),
	})
}

func spend(n int) Mutation {
	return func(s *match.Session) error {
		s.Player("alice").ResourcesSpent += n
		s.History = append(s.History, match.NewGameAction(s, "alice", match.EndTurn{}, storeNow))
		return nil
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, NewMemoryRepository())

	created, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	got.Player("alice").Resources = 0
	again, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, again.Player("alice").Resources, "Get must hand out copies")

	_, err = st.Create(ctx, newSession("s1"))
	assert.True(t, errors.Is(err, ErrConflict))

	_, err = st.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreApplyIncrementsVersionOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	st := newStore(t, repo)
	_, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)

	next, err := st.Apply(ctx, "s1", spend(2), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, 2, next.Player("alice").ResourcesSpent)
	assert.Equal(t, storeNow, next.LastActionAt)
	assert.Equal(t, 1, repo.ActionCount("s1"))

	durable, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), durable.Version)
}

func TestStoreApplyStaleVersionHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, NewMemoryRepository())
	_, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)
	_, err = st.Apply(ctx, "s1", spend(1), 1)
	require.NoError(t, err)

	called := false
	_, err = st.Apply(ctx, "s1", func(*match.Session) error {
		called = true
		return nil
	}, 1)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, called)

	cur, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version)
}

func TestStoreApplyMutationErrorDiscardsCopy(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, NewMemoryRepository())
	_, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = st.Apply(ctx, "s1", func(s *match.Session) error {
		s.Player("alice").Resources = 99
		return boom
	}, AnyVersion)
	assert.ErrorIs(t, err, boom)

	cur, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, cur.Player("alice").Resources)
	assert.Equal(t, int64(1), cur.Version)
}

func TestStoreConcurrentApplyExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, NewMemoryRepository())
	_, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := st.Apply(ctx, "s1", spend(1), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
	cur, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version)
	assert.Equal(t, 1, cur.Player("alice").ResourcesSpent)
}

func TestStoreDurableConflictEvictsCache(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	st := newStore(t, repo)
	other := newStore(t, repo)
	_, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)
	_, err = st.Get(ctx, "s1")
	require.NoError(t, err)

	_, err = other.Apply(ctx, "s1", spend(1), 1)
	require.NoError(t, err)

	_, err = st.Apply(ctx, "s1", spend(1), 1)
	assert.True(t, errors.Is(err, ErrConflict))

	fresh, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, NewMemoryRepository())
	_, err := st.Create(ctx, newSession("s1"))
	require.NoError(t, err)

	require.NoError(t, st.Delete(ctx, "s1"))
	_, err = st.Get(ctx, "s1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, st.Cached())
}

func TestLoadRejectsTamperedState(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := newSession("s1")
	s.Version = 1
	require.NoError(t, repo.Save(ctx, s))

	repo.Corrupt("s1", []byte(`{"id":"s1","version":1}`))
	_, err := repo.Load(ctx, "s1")
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestChecksumIsStable(t *testing.T) {
	a := Checksum([]byte("state"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Checksum([]byte("state")))
	assert.NotEqual(t, a, Checksum([]byte("state2")))
}
