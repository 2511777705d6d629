package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gridwars/gridwars-server-go/internal/game"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/gridwars/gridwars-server-go/internal/game/rules"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Client is one player connection bound to one session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	playerID  string
	limiter   *rate.Limiter

	writeTimeout time.Duration
	pongTimeout  time.Duration
}

// ActionResult is the reply to an accepted command.
type ActionResult struct {
	Version  int64            `json:"version"`
	Action   match.GameAction `json:"action"`
	Events   []match.Event    `json:"events"`
	Warnings []rules.Issue    `json:"warnings,omitempty"`
	State    SessionView      `json:"state"`
}

// Rejection is the reply to a refused command.
type Rejection struct {
	Codes  []rules.Code  `json:"codes"`
	Errors []rules.Issue `json:"errors"`
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed",
					zap.String("session_id", c.sessionID),
					zap.String("player_id", c.playerID),
					zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

		if !c.limiter.Allow() {
			c.reply(MsgError, map[string]string{"code": "RATE_LIMITED", "message": "too many commands"})
			continue
		}
		c.handleCommand(ctx, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand decodes one frame into a typed action and routes it through
// the engine.
func (c *Client) handleCommand(ctx context.Context, message []byte) {
	action, err := match.ParseEnvelope(message)
	if err != nil {
		c.reply(MsgActionRejected, Rejection{
			Codes:  []rules.Code{rules.CodeMalformedAction},
			Errors: []rules.Issue{{Code: rules.CodeMalformedAction, Message: err.Error()}},
		})
		return
	}

	out, err := c.hub.engine.Submit(ctx, game.Command{
		SessionID: c.sessionID,
		PlayerID:  c.playerID,
		Action:    action,
	})
	if err != nil {
		var verr *game.ValidationError
		switch {
		case errors.As(err, &verr):
			c.reply(MsgActionRejected, Rejection{Codes: verr.Codes(), Errors: verr.Result.Errors})
		case errors.Is(err, game.ErrInternal):
			c.reply(MsgActionRejected, Rejection{
				Codes:  []rules.Code{rules.CodeInternalError},
				Errors: []rules.Issue{{Code: rules.CodeInternalError, Message: "internal error"}},
			})
		default:
			c.hub.logger.Warn("command failed",
				zap.String("session_id", c.sessionID),
				zap.String("player_id", c.playerID),
				zap.String("action_type", string(action.Type())),
				zap.Error(err))
			c.reply(MsgError, map[string]string{"message": err.Error()})
		}
		return
	}

	c.reply(MsgActionResult, ActionResult{
		Version:  out.Session.Version,
		Action:   out.Action,
		Events:   filterEvents(out.Events, c.playerID),
		Warnings: out.Warnings,
		State:    NewSessionView(out.Session, c.playerID),
	})
}

func (c *Client) reply(msgType string, data any) {
	c.hub.send(c, WSMessage{Type: msgType, SessionID: c.sessionID, PlayerID: c.playerID, Data: data})
}
