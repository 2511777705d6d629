package server

import (
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

// PlayerView is one seat as seen by a given viewer. Hidden information of
// the opponent is reduced to counts.
type PlayerView struct {
	PlayerID             string               `json:"player_id"`
	Faction              string               `json:"faction"`
	Resources            int                  `json:"resources"`
	ResourcesSpent       int                  `json:"resources_spent"`
	PendingCostReduction int                  `json:"pending_cost_reduction"`
	Board                []*match.BoardUnit   `json:"board"`
	Graveyard            []string             `json:"graveyard"`
	Hand                 []match.HandCard     `json:"hand,omitempty"`
	HandCount            int                  `json:"hand_count"`
	DeckCount            int                  `json:"deck_count"`
	Quest                *match.QuestProgress `json:"quest,omitempty"`
	Counters             match.Counters       `json:"counters"`
}

// SessionView is the client-facing projection of a session.
type SessionView struct {
	ID            string        `json:"id"`
	Version       int64         `json:"version"`
	Status        match.Status  `json:"status"`
	Turn          int           `json:"turn"`
	Phase         match.Phase   `json:"phase"`
	CurrentPlayer string        `json:"current_player"`
	Paused        bool          `json:"paused"`
	TurnDuration  time.Duration `json:"turn_duration"`
	TimeRemaining time.Duration `json:"time_remaining"`
	GameOver      bool          `json:"game_over"`
	Winner        string        `json:"winner,omitempty"`
	WinCondition  string        `json:"win_condition,omitempty"`
	Players       []PlayerView  `json:"players"`
}

// NewSessionView projects s for viewerID. Hands, deck order and quests stay
// private to their owner.
func NewSessionView(s *match.Session, viewerID string) SessionView {
	v := SessionView{
		ID:            s.ID,
		Version:       s.Version,
		Status:        s.Status,
		Turn:          s.Turn,
		Phase:         s.Phase,
		CurrentPlayer: s.CurrentPlayer,
		Paused:        s.Paused,
		TurnDuration:  s.TurnDuration,
		TimeRemaining: s.TimeRemaining,
		GameOver:      s.GameOver,
		Winner:        s.Winner,
		WinCondition:  string(s.WinCondition),
	}
	for _, id := range s.Players {
		p := s.Player(id)
		if p == nil {
			continue
		}
		pv := PlayerView{
			PlayerID:             p.PlayerID,
			Faction:              string(p.Faction),
			Resources:            p.Resources,
			ResourcesSpent:       p.ResourcesSpent,
			PendingCostReduction: p.PendingCostReduction,
			Board:                p.Board.Units(),
			Graveyard:            p.Graveyard,
			HandCount:            len(p.Hand),
			DeckCount:            len(p.Deck),
			Counters:             p.Counters,
		}
		if id == viewerID || s.GameOver {
			pv.Hand = p.Hand
			q := p.Quest
			pv.Quest = &q
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

// visibleTo reports whether an event may be shown to viewerID.
func visibleTo(e match.Event, viewerID string) bool {
	switch e.Type {
	case match.EventQuestProgress, match.EventCardDrawn:
		return e.PlayerID == viewerID
	}
	return true
}

func filterEvents(events []match.Event, viewerID string) []match.Event {
	out := make([]match.Event, 0, len(events))
	for _, e := range events {
		if visibleTo(e, viewerID) {
			out = append(out, e)
		}
	}
	return out
}
