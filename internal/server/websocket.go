package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gridwars/gridwars-server-go/internal/config"
	"github.com/gridwars/gridwars-server-go/internal/game"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebSocketServer exposes command intake over WebSocket plus a small JSON
// API for creating and inspecting sessions.
type WebSocketServer struct {
	cfg      config.WebSocketConfig
	hub      *Hub
	engine   Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger
	ctx      context.Context
}

// NewWebSocketServer builds the intake. ctx bounds every command the
// connections submit.
func NewWebSocketServer(ctx context.Context, cfg config.WebSocketConfig, hub *Hub, engine Engine, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	s := &WebSocketServer{
		cfg:    cfg,
		hub:    hub,
		engine: engine,
		logger: logger,
		ctx:    ctx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) serveWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	playerID := r.URL.Query().Get("player")
	if sessionID == "" || playerID == "" {
		http.Error(w, "session and player are required", http.StatusBadRequest)
		return
	}
	sess, err := s.engine.Session(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !sess.HasPlayer(playerID) {
		http.Error(w, "player is not part of this session", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:          s.hub,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		sessionID:    sessionID,
		playerID:     playerID,
		limiter:      rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), s.cfg.Burst),
		writeTimeout: s.cfg.WriteTimeout,
		pongTimeout:  s.cfg.PongTimeout,
	}
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	s.logger.Info("player connected",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID))

	client.reply(MsgSessionState, NewSessionView(sess, playerID))
	go client.writePump()
	go client.readPump(s.ctx)
}

type createSessionRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	PlayerA      string `json:"player_a"`
	FactionA     string `json:"faction_a"`
	PlayerB      string `json:"player_b"`
	FactionB     string `json:"faction_b"`
	TurnDuration string `json:"turn_duration,omitempty"`
}

func (s *WebSocketServer) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	params := game.CreateParams{
		SessionID: req.SessionID,
		PlayerA:   req.PlayerA,
		FactionA:  catalog.Faction(req.FactionA),
		PlayerB:   req.PlayerB,
		FactionB:  catalog.Faction(req.FactionB),
	}
	if req.TurnDuration != "" {
		d, err := time.ParseDuration(req.TurnDuration)
		if err != nil || d <= 0 {
			http.Error(w, "invalid turn_duration", http.StatusBadRequest)
			return
		}
		params.TurnDuration = d
	}

	sess, err := s.engine.CreateSession(r.Context(), params)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewSessionView(sess, ""))
}

func (s *WebSocketServer) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewSessionView(sess, r.URL.Query().Get("player")))
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, game.ErrInvalidParams):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, game.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
