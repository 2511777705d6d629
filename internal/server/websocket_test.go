package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gridwars/gridwars-server-go/internal/config"
	"github.com/gridwars/gridwars-server-go/internal/game"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/gridwars/gridwars-server-go/internal/game/rules"
	"github.com/gridwars/gridwars-server-go/internal/game/timer"
	"github.com/gridwars/gridwars-server-go/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	engine *game.Engine
	hub    *Hub
	http   *httptest.Server
}

func newTestServer(t *testing.T, wsCfg config.WebSocketConfig) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := timer.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := repository.NewSessionStore(repository.NewMemoryRepository(), repository.StoreOptions{Now: clock.Now, Logger: logger})
	engine := game.NewEngine(game.Deps{
		Store:  store,
		Clock:  clock,
		Logger: logger,
		Seed:   11,
	})

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(engine, logger)
	engine.SetSink(hub)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewWebSocketServer(ctx, wsCfg, hub, engine, logger).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	_, err := engine.CreateSession(ctx, game.CreateParams{
		SessionID: "s1",
		PlayerA:   "alice",
		FactionA:  catalog.FactionHuman,
		PlayerB:   "bob",
		FactionB:  catalog.FactionRobot,
	})
	require.NoError(t, err)
	return &testServer{engine: engine, hub: hub, http: srv}
}

func (ts *testServer) dial(t *testing.T, sessionID, playerID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws?session=" + sessionID + "&player=" + playerID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

type inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	PlayerID  string          `json:"player_id"`
	Data      json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg inbound
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func sendCommand(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(body)))
}

func TestCreateSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{})

	body := `{"session_id":"s2","player_a":"carol","faction_a":"alien","player_b":"dave","faction_b":"human","turn_duration":"45s"}`
	resp, err := http.Post(ts.http.URL+"/sessions", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view SessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "s2", view.ID)
	assert.Equal(t, "carol", view.CurrentPlayer)
	assert.Equal(t, 45*time.Second, view.TurnDuration)
	for _, p := range view.Players {
		assert.Nil(t, p.Hand, "anonymous view hides hands")
		assert.Nil(t, p.Quest)
		assert.Positive(t, p.HandCount)
	}

	resp, err = http.Post(ts.http.URL+"/sessions", "application/json", bytes.NewBufferString(`{"player_a":"x","faction_a":"elf","player_b":"y","faction_b":"human"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{})

	resp, err := http.Get(ts.http.URL + "/sessions/s1?player=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view SessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.Len(t, view.Players, 2)
	assert.NotNil(t, view.Players[0].Quest, "owner sees own quest")
	assert.Nil(t, view.Players[1].Quest, "opponent quest is hidden")

	resp, err = http.Get(ts.http.URL + "/sessions/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketRejectsStrangers(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{})

	_, resp, err := ts.dial(t, "s1", "mallory")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = ts.dial(t, "missing", "alice")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketCommandFlow(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{})

	alice, _, err := ts.dial(t, "s1", "alice")
	require.NoError(t, err)
	state := readUntil(t, alice, MsgSessionState)
	var view SessionView
	require.NoError(t, json.Unmarshal(state.Data, &view))
	assert.NotEmpty(t, view.Players[0].Hand)
	assert.Empty(t, view.Players[1].Hand)

	bob, _, err := ts.dial(t, "s1", "bob")
	require.NoError(t, err)
	readUntil(t, bob, MsgSessionState)

	sendCommand(t, bob, `{"type":"end_turn"}`)
	rejected := readUntil(t, bob, MsgActionRejected)
	var rej Rejection
	require.NoError(t, json.Unmarshal(rejected.Data, &rej))
	assert.Contains(t, rej.Codes, rules.CodeNotYourTurn)

	sendCommand(t, alice, `{"type":"end_turn","payload":{}}`)
	result := readUntil(t, alice, MsgActionResult)
	var res ActionResult
	require.NoError(t, json.Unmarshal(result.Data, &res))
	assert.Equal(t, "bob", res.State.CurrentPlayer)
	assert.Equal(t, match.ActionEndTurn, res.Action.Type)

	broadcast := readUntil(t, bob, MsgEvents)
	var events []match.Event
	require.NoError(t, json.Unmarshal(broadcast.Data, &events))
	require.NotEmpty(t, events)
	assert.Equal(t, match.EventTurnEnded, events[0].Type)
	for _, e := range events {
		if e.Type == match.EventCardDrawn {
			assert.Equal(t, "bob", e.PlayerID, "draws are private")
		}
	}
}

func TestWebSocketMalformedCommand(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{})
	alice, _, err := ts.dial(t, "s1", "alice")
	require.NoError(t, err)

	sendCommand(t, alice, `{"type":"teleport","payload":{}}`)
	msg := readUntil(t, alice, MsgActionRejected)
	var rej Rejection
	require.NoError(t, json.Unmarshal(msg.Data, &rej))
	assert.Equal(t, []rules.Code{rules.CodeMalformedAction}, rej.Codes)

	sendCommand(t, alice, `{"type":"attack","payload":{"from":{"row":0,"col":0},"to":{"row":0,"col":0},"extra":1}}`)
	msg = readUntil(t, alice, MsgActionRejected)
	require.NoError(t, json.Unmarshal(msg.Data, &rej))
	assert.Equal(t, []rules.Code{rules.CodeMalformedAction}, rej.Codes)
}

func TestWebSocketRateLimit(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{CommandsPerSecond: 0.001, Burst: 1})
	alice, _, err := ts.dial(t, "s1", "alice")
	require.NoError(t, err)

	sendCommand(t, alice, `{"type":"bogus"}`)
	readUntil(t, alice, MsgActionRejected)

	sendCommand(t, alice, `{"type":"bogus"}`)
	msg := readUntil(t, alice, MsgError)
	assert.Contains(t, string(msg.Data), "RATE_LIMITED")
}

func TestPresencePausesAndResumes(t *testing.T) {
	ts := newTestServer(t, config.WebSocketConfig{})
	ctx := context.Background()

	paused := func() bool {
		s, err := ts.engine.Session(ctx, "s1")
		return err == nil && s.Paused
	}

	alice, _, err := ts.dial(t, "s1", "alice")
	require.NoError(t, err)
	readUntil(t, alice, MsgSessionState)
	assert.Eventually(t, paused, 2*time.Second, 10*time.Millisecond, "one seat empty")

	bob, _, err := ts.dial(t, "s1", "bob")
	require.NoError(t, err)
	readUntil(t, bob, MsgSessionState)
	assert.Eventually(t, func() bool { return !paused() }, 2*time.Second, 10*time.Millisecond, "both seats taken")

	require.NoError(t, bob.Close())
	assert.Eventually(t, paused, 2*time.Second, 10*time.Millisecond, "bob left")
	assert.ElementsMatch(t, []string{"alice"}, ts.hub.Connected("s1"))
}
