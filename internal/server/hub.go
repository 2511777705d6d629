package server

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"go.uber.org/zap"
)

// Message types sent to clients.
const (
	MsgSessionState   = "session_state"
	MsgActionResult   = "action_result"
	MsgActionRejected = "action_rejected"
	MsgEvents         = "events"
	MsgError          = "error"
)

// Engine is the part of the game engine the intake drives.
type Engine interface {
	CreateSession(ctx context.Context, params game.CreateParams) (*match.Session, error)
	Submit(ctx context.Context, cmd game.Command) (*game.Outcome, error)
	Session(ctx context.Context, id string) (*match.Session, error)
	Pause(ctx context.Context, id string) (time.Duration, error)
	Resume(ctx context.Context, id string) (time.Duration, error)
}

// WSMessage is the envelope of every server-to-client frame.
type WSMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	PlayerID  string `json:"player_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

const presenceShards = 64

type broadcast struct {
	sessionID string
	events    []match.Event
}

// Hub tracks connected clients per session and fans result events out to
// them. It implements game.EventSink.
type Hub struct {
	engine Engine
	logger *zap.Logger

	broadcast chan broadcast
	done      chan struct{}

	mu       sync.RWMutex
	closed   bool
	sessions map[string]map[*Client]bool

	// presence serializes pause and resume decisions per session.
	presence [presenceShards]sync.Mutex
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(engine Engine, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		engine:    engine,
		logger:    logger,
		broadcast: make(chan broadcast, 256),
		done:      make(chan struct{}),
		sessions:  make(map[string]map[*Client]bool),
	}
}

// Run fans out broadcasts until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case b := <-h.broadcast:
			h.deliver(b)
		}
	}
}

// Register adds c to its session. It returns false once the hub shut down.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	clients, ok := h.sessions[c.sessionID]
	if !ok {
		clients = make(map[*Client]bool)
		h.sessions[c.sessionID] = clients
	}
	clients[c] = true
	h.mu.Unlock()

	h.logger.Debug("client registered",
		zap.String("session_id", c.sessionID),
		zap.String("player_id", c.playerID))
	go h.presenceChanged(c.sessionID)
	return true
}

// Unregister removes c and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	if !h.remove(c) {
		return
	}
	h.logger.Debug("client unregistered",
		zap.String("session_id", c.sessionID),
		zap.String("player_id", c.playerID))
	go h.presenceChanged(c.sessionID)
}

// send queues a frame for c unless it was dropped already.
func (h *Hub) send(c *Client, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.sessions[c.sessionID][c] {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("client send buffer full",
			zap.String("session_id", c.sessionID),
			zap.String("player_id", c.playerID))
	}
}

// Publish queues events for every client of the session.
func (h *Hub) Publish(sessionID string, events []match.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case h.broadcast <- broadcast{sessionID: sessionID, events: events}:
	case <-h.done:
	}
}

// Connected returns the distinct players with an open connection.
func (h *Hub) Connected(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for c := range h.sessions[sessionID] {
		if !seen[c.playerID] {
			seen[c.playerID] = true
			out = append(out, c.playerID)
		}
	}
	return out
}

func (h *Hub) deliver(b broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.sessions[b.sessionID] {
		visible := filterEvents(b.events, c.playerID)
		if len(visible) == 0 {
			continue
		}
		payload, err := json.Marshal(WSMessage{Type: MsgEvents, SessionID: b.sessionID, Data: visible})
		if err != nil {
			h.logger.Error("failed to encode events", zap.String("session_id", b.sessionID), zap.Error(err))
			return
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow client",
				zap.String("session_id", c.sessionID),
				zap.String("player_id", c.playerID))
			h.dropLocked(c)
		}
	}
}

// remove forgets c and closes its send channel. It reports whether c was
// still registered.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.sessions[c.sessionID][c] {
		return false
	}
	h.dropLocked(c)
	return true
}

func (h *Hub) dropLocked(c *Client) {
	clients := h.sessions[c.sessionID]
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.sessionID)
	}
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, clients := range h.sessions {
		for c := range clients {
			close(c.send)
		}
	}
	h.sessions = make(map[string]map[*Client]bool)
}

// presenceChanged freezes the turn clock while a seat is empty and resumes
// it once both players are back. Connectivity is read under the session's
// presence lock, so the last check to run always sees the final seating.
func (h *Hub) presenceChanged(sessionID string) {
	mu := h.presenceLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	ctx := context.Background()
	s, err := h.engine.Session(ctx, sessionID)
	if err != nil || !s.Active() {
		return
	}
	if len(h.Connected(sessionID)) < len(s.Players) {
		if _, err := h.engine.Pause(ctx, sessionID); err != nil {
			h.logger.Warn("failed to pause session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	if _, err := h.engine.Resume(ctx, sessionID); err != nil {
		h.logger.Warn("failed to resume session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *Hub) presenceLock(sessionID string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(sessionID))
	return &h.presence[f.Sum32()%presenceShards]
}
