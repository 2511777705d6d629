package timer

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of one session countdown.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateFired   State = "fired"
)

// Handler is invoked when a player's turn time runs out.
type Handler func(sessionID, playerID string)

// Snapshot is a read-only view of a session countdown.
type Snapshot struct {
	PlayerID  string
	State     State
	Duration  time.Duration
	Remaining time.Duration
	Deadline  time.Time
}

type countdown struct {
	playerID   string
	duration   time.Duration
	state      State
	deadline   time.Time
	remaining  time.Duration
	timer      Timer
	generation uint64
}

// Coordinator keeps one countdown per session, keyed by the player whose
// turn it is. Stale callbacks are discarded by generation.
type Coordinator struct {
	mu      sync.Mutex
	clock   Clock
	timers  map[string]*countdown
	handler Handler
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator. A nil clock uses RealClock.
func NewCoordinator(clock Clock, logger *zap.Logger) *Coordinator {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		clock:  clock,
		timers: make(map[string]*countdown),
		logger: logger,
	}
}

// SetHandler registers the timeout callback.
func (c *Coordinator) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Arm starts a fresh countdown of d for playerID, replacing any previous
// countdown of the session.
func (c *Coordinator) Arm(sessionID, playerID string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.timers[sessionID]
	if !ok {
		cd = &countdown{}
		c.timers[sessionID] = cd
	}
	c.stopLocked(cd)
	cd.playerID = playerID
	cd.duration = d
	c.scheduleLocked(sessionID, cd, d)

	c.logger.Debug("turn timer armed",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID),
		zap.Duration("duration", d))
}

// Reset restarts playerID's countdown with the full duration. It is a no-op
// when another player is being timed or the countdown is paused.
func (c *Coordinator) Reset(sessionID, playerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.timers[sessionID]
	if !ok || cd.playerID != playerID || cd.state != StateRunning {
		return false
	}
	c.stopLocked(cd)
	c.scheduleLocked(sessionID, cd, cd.duration)
	return true
}

// Pause freezes the countdown and returns the exact time left.
func (c *Coordinator) Pause(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.timers[sessionID]
	if !ok || cd.state != StateRunning {
		return 0, false
	}
	c.stopLocked(cd)
	cd.remaining = cd.deadline.Sub(c.clock.Now())
	if cd.remaining < 0 {
		cd.remaining = 0
	}
	cd.state = StatePaused
	return cd.remaining, true
}

// Resume re-arms a paused countdown with the remaining time.
func (c *Coordinator) Resume(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.timers[sessionID]
	if !ok || cd.state != StatePaused {
		return 0, false
	}
	c.scheduleLocked(sessionID, cd, cd.remaining)
	return cd.remaining, true
}

// Cancel stops and forgets the session countdown.
func (c *Coordinator) Cancel(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cd, ok := c.timers[sessionID]; ok {
		c.stopLocked(cd)
		delete(c.timers, sessionID)
	}
}

// Snapshot returns the current countdown state.
func (c *Coordinator) Snapshot(sessionID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.timers[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		PlayerID: cd.playerID,
		State:    cd.state,
		Duration: cd.duration,
		Deadline: cd.deadline,
	}
	switch cd.state {
	case StateRunning:
		snap.Remaining = cd.deadline.Sub(c.clock.Now())
		if snap.Remaining < 0 {
			snap.Remaining = 0
		}
	case StatePaused:
		snap.Remaining = cd.remaining
	}
	return snap, true
}

// Len returns the number of tracked sessions.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Coordinator) stopLocked(cd *countdown) {
	if cd.timer != nil {
		cd.timer.Stop()
		cd.timer = nil
	}
	cd.generation++
}

func (c *Coordinator) scheduleLocked(sessionID string, cd *countdown, d time.Duration) {
	cd.generation++
	gen := cd.generation
	cd.state = StateRunning
	cd.deadline = c.clock.Now().Add(d)
	cd.remaining = d
	cd.timer = c.clock.AfterFunc(d, func() { c.fire(sessionID, gen) })
}

func (c *Coordinator) fire(sessionID string, gen uint64) {
	c.mu.Lock()
	cd, ok := c.timers[sessionID]
	if !ok || cd.generation != gen || cd.state != StateRunning {
		c.mu.Unlock()
		return
	}
	cd.state = StateFired
	cd.timer = nil
	cd.remaining = 0
	playerID := cd.playerID
	handler := c.handler
	c.mu.Unlock()

	c.logger.Info("turn timer fired",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID))
	if handler != nil {
		handler(sessionID, playerID)
	}
}
