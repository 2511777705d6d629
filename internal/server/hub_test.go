package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/timer"
	"github.com/gridwars/gridwars-server-go/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newHubFixture(t *testing.T) (*Hub, *game.Engine, *timer.Coordinator) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := timer.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	timers := timer.NewCoordinator(clock, logger)
	store := repository.NewSessionStore(repository.NewMemoryRepository(), repository.StoreOptions{Now: clock.Now, Logger: logger})
	engine := game.NewEngine(game.Deps{
		Store:  store,
		Timers: timers,
		Clock:  clock,
		Logger: logger,
		Seed:   5,
	})
	hub := NewHub(engine, logger)
	engine.SetSink(hub)

	_, err := engine.CreateSession(context.Background(), game.CreateParams{
		SessionID: "s1",
		PlayerA:   "alice",
		FactionA:  catalog.FactionHuman,
		PlayerB:   "bob",
		FactionB:  catalog.FactionAlien,
	})
	require.NoError(t, err)
	return hub, engine, timers
}

func hubClient(h *Hub, playerID string) *Client {
	return &Client{hub: h, send: make(chan []byte, 16), sessionID: "s1", playerID: playerID}
}

func TestReconnectChurnLeavesSessionRunning(t *testing.T) {
	hub, engine, timers := newHubFixture(t)
	ctx := context.Background()

	require.True(t, hub.Register(hubClient(hub, "alice")))
	bob := hubClient(hub, "bob")
	require.True(t, hub.Register(bob))

	for i := 0; i < 50; i++ {
		hub.Unregister(bob)
		bob = hubClient(hub, "bob")
		require.True(t, hub.Register(bob))
	}

	// Checks queued behind the churn all see both seats taken.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.presenceChanged("s1")
		}()
	}
	wg.Wait()

	s, err := engine.Session(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, s.Paused)
	snap, ok := timers.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, timer.StateRunning, snap.State)
	assert.ElementsMatch(t, []string{"alice", "bob"}, hub.Connected("s1"))
}

func TestDisconnectChurnLeavesSessionPaused(t *testing.T) {
	hub, engine, timers := newHubFixture(t)
	ctx := context.Background()

	require.True(t, hub.Register(hubClient(hub, "alice")))
	for i := 0; i < 50; i++ {
		bob := hubClient(hub, "bob")
		require.True(t, hub.Register(bob))
		hub.Unregister(bob)
	}
	hub.presenceChanged("s1")

	s, err := engine.Session(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.Paused)
	snap, ok := timers.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, timer.StatePaused, snap.State)
}
