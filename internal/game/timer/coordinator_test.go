package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type firing struct {
	sessionID string
	playerID  string
}

func newCoordinator(t *testing.T) (*Coordinator, *FakeClock, *[]firing) {
	clock := NewFakeClock(time.Unix(1000, 0))
	c := NewCoordinator(clock, zaptest.NewLogger(t))
	var fired []firing
	c.SetHandler(func(sessionID, playerID string) {
		fired = append(fired, firing{sessionID, playerID})
	})
	return c, clock, &fired
}

func TestCoordinatorFiresAtDeadline(t *testing.T) {
	c, clock, fired := newCoordinator(t)
	c.Arm("s1", "alice", time.Minute)

	clock.Advance(59 * time.Second)
	assert.Empty(t, *fired)

	clock.Advance(time.Second)
	require.Len(t, *fired, 1)
	assert.Equal(t, firing{"s1", "alice"}, (*fired)[0])

	snap, ok := c.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, StateFired, snap.State)
}

func TestCoordinatorResetRestartsFullDuration(t *testing.T) {
	c, clock, fired := newCoordinator(t)
	c.Arm("s1", "alice", time.Minute)

	clock.Advance(50 * time.Second)
	assert.True(t, c.Reset("s1", "alice"))
	assert.False(t, c.Reset("s1", "bob"))

	clock.Advance(50 * time.Second)
	assert.Empty(t, *fired)
	clock.Advance(10 * time.Second)
	assert.Len(t, *fired, 1)
	assert.Equal(t, 0, clock.Pending())
}

func TestCoordinatorPauseResumeKeepsRemainder(t *testing.T) {
	c, clock, fired := newCoordinator(t)
	c.Arm("s1", "alice", time.Minute)
	clock.Advance(20*time.Second + 250*time.Millisecond)

	remaining, ok := c.Pause("s1")
	require.True(t, ok)
	assert.Equal(t, 39*time.Second+750*time.Millisecond, remaining)

	clock.Advance(10 * time.Minute)
	assert.Empty(t, *fired)
	assert.False(t, c.Reset("s1", "alice"))

	snap, _ := c.Snapshot("s1")
	assert.Equal(t, StatePaused, snap.State)
	assert.Equal(t, remaining, snap.Remaining)

	resumed, ok := c.Resume("s1")
	require.True(t, ok)
	assert.Equal(t, remaining, resumed)

	clock.Advance(39 * time.Second)
	assert.Empty(t, *fired)
	clock.Advance(750 * time.Millisecond)
	assert.Len(t, *fired, 1)
}

func TestCoordinatorArmReplacesPrevious(t *testing.T) {
	c, clock, fired := newCoordinator(t)
	c.Arm("s1", "alice", time.Minute)
	c.Arm("s1", "bob", 2*time.Minute)

	clock.Advance(time.Minute)
	assert.Empty(t, *fired)
	clock.Advance(time.Minute)
	require.Len(t, *fired, 1)
	assert.Equal(t, "bob", (*fired)[0].playerID)
}

func TestCoordinatorCancelDropsPendingFire(t *testing.T) {
	c, clock, fired := newCoordinator(t)
	c.Arm("s1", "alice", time.Minute)
	c.Arm("s2", "carol", time.Minute)
	c.Cancel("s1")

	clock.Advance(time.Minute)
	require.Len(t, *fired, 1)
	assert.Equal(t, "s2", (*fired)[0].sessionID)

	_, ok := c.Snapshot("s1")
	assert.False(t, ok)
	_, ok = c.Pause("s1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCoordinatorStaleCallbackIsIgnored(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	c := NewCoordinator(clock, nil)
	calls := 0
	c.SetHandler(func(string, string) { calls++ })

	c.Arm("s1", "alice", time.Second)
	gen := c.timers["s1"].generation
	c.Reset("s1", "alice")

	c.fire("s1", gen)
	assert.Equal(t, 0, calls)
}

func TestHandlerMayRearmFromCallback(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	c := NewCoordinator(clock, nil)
	c.SetHandler(func(sessionID, playerID string) {
		next := "alice"
		if playerID == "alice" {
			next = "bob"
		}
		c.Arm(sessionID, next, time.Second)
	})
	c.Arm("s1", "alice", time.Second)

	clock.Advance(time.Second)
	snap, ok := c.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "bob", snap.PlayerID)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, 1, clock.Pending())
}
