package server

import (
	"testing"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewSession() *match.Session {
	alice := &match.PlayerState{
		PlayerID: "alice",
		Faction:  catalog.FactionHuman,
		Hand:     []match.HandCard{{CardID: "human_footman"}},
		Deck:     []string{"human_knight", "human_archer"},
		Quest:    match.QuestProgress{QuestID: "human_vanguard_purge", Target: 5},
	}
	bob := &match.PlayerState{
		PlayerID: "bob",
		Faction:  catalog.FactionRobot,
		Hand:     []match.HandCard{{CardID: "robot_mech"}, {CardID: "robot_turret"}},
		Quest:    match.QuestProgress{QuestID: "robot_reboot_cycle", Target: 3},
	}
	return match.NewSession("s1", alice, bob, time.Minute, time.Now())
}

func TestSessionViewHidesOpponentSecrets(t *testing.T) {
	v := NewSessionView(viewSession(), "alice")
	require.Len(t, v.Players, 2)

	me, them := v.Players[0], v.Players[1]
	assert.Len(t, me.Hand, 1)
	require.NotNil(t, me.Quest)
	assert.Equal(t, "human_vanguard_purge", me.Quest.QuestID)
	assert.Equal(t, 2, me.DeckCount)

	assert.Nil(t, them.Hand)
	assert.Nil(t, them.Quest)
	assert.Equal(t, 2, them.HandCount)
}

func TestSessionViewRevealsAllAfterGameOver(t *testing.T) {
	s := viewSession()
	s.End("bob", match.WinSurrender)
	v := NewSessionView(s, "alice")
	assert.NotNil(t, v.Players[1].Quest)
	assert.Len(t, v.Players[1].Hand, 2)
	assert.Equal(t, "surrender", v.WinCondition)
}

func TestFilterEvents(t *testing.T) {
	events := []match.Event{
		match.NewEvent(match.EventTurnEnded, "alice"),
		match.NewEvent(match.EventCardDrawn, "bob"),
		match.NewQuestEvent(match.QuestDelta{PlayerID: "alice", QuestID: "human_vanguard_purge", Delta: 1}),
	}

	forAlice := filterEvents(events, "alice")
	require.Len(t, forAlice, 2)
	assert.Equal(t, match.EventTurnEnded, forAlice[0].Type)
	assert.Equal(t, match.EventQuestProgress, forAlice[1].Type)

	forBob := filterEvents(events, "bob")
	require.Len(t, forBob, 2)
	assert.Equal(t, match.EventCardDrawn, forBob[1].Type)
}
