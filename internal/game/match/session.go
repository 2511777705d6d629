package match

import (
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the session can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Phase is a step of the per-turn loop resources -> draw -> actions.
type Phase string

const (
	PhaseResources Phase = "resources"
	PhaseDraw      Phase = "draw"
	PhaseActions   Phase = "actions"
)

// WinCondition records why a session ended.
type WinCondition string

const (
	WinQuest     WinCondition = "quest"
	WinSurrender WinCondition = "surrender"
	WinAbandoned WinCondition = "abandoned"
)

// Rule limits shared by every session.
const (
	MaxResources = 10
	HandLimit    = 7
)

// HandCard is one card held in hand.
type HandCard struct {
	InstanceID string `json:"instance_id"`
	CardID     string `json:"card_id"`
}

// Counters are per-game statistics kept for quests and reporting.
type Counters struct {
	UnitsPlaced    int `json:"units_placed"`
	UnitsKilled    int `json:"units_killed"`
	UnitsLost      int `json:"units_lost"`
	SpellsCast     int `json:"spells_cast"`
	DamageDealt    int `json:"damage_dealt"`
	ResourcesSpent int `json:"resources_spent"`
	Resurrections  int `json:"resurrections"`
	LinesCompleted int `json:"lines_completed"`
	TurnsPlayed    int `json:"turns_played"`
}

// Milestone is an intermediate quest threshold.
type Milestone struct {
	Threshold  int        `json:"threshold"`
	AchievedAt *time.Time `json:"achieved_at,omitempty"`
}

// QuestProgress is a player's hidden objective state.
type QuestProgress struct {
	QuestID     string      `json:"quest_id"`
	Current     int         `json:"current"`
	Target      int         `json:"target"`
	Completed   bool        `json:"completed"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Milestones  []Milestone `json:"milestones,omitempty"`
}

// Clone returns a deep copy of the quest progress.
func (q QuestProgress) Clone() QuestProgress {
	cpy := q
	if q.CompletedAt != nil {
		t := *q.CompletedAt
		cpy.CompletedAt = &t
	}
	if q.Milestones != nil {
		cpy.Milestones = make([]Milestone, len(q.Milestones))
		for i, m := range q.Milestones {
			cpy.Milestones[i] = m
			if m.AchievedAt != nil {
				t := *m.AchievedAt
				cpy.Milestones[i].AchievedAt = &t
			}
		}
	}
	return cpy
}

// PlayerState is one player's half of a session.
type PlayerState struct {
	PlayerID string          `json:"player_id"`
	Faction  catalog.Faction `json:"faction"`

	Hand      []HandCard `json:"hand"`
	Deck      []string   `json:"deck"`
	Graveyard []string   `json:"graveyard"`
	Board     Board      `json:"board"`

	Resources      int `json:"resources"`
	ResourcesSpent int `json:"resources_spent"`

	// PendingCostReduction is consumed by the next unit placement.
	PendingCostReduction int `json:"pending_cost_reduction,omitempty"`

	Quest    QuestProgress `json:"quest"`
	Counters Counters      `json:"counters"`
}

// Available returns the resources left to spend this turn.
func (p *PlayerState) Available() int {
	return p.Resources - p.ResourcesSpent
}

// PlacementCost returns what a unit of the given base cost costs right now.
func (p *PlayerState) PlacementCost(base int) int {
	cost := base - p.PendingCostReduction
	if cost < 0 {
		return 0
	}
	return cost
}

// RemoveUnit takes the unit at pos off the board and moves its card to the
// graveyard. It returns nil when the cell is empty.
func (p *PlayerState) RemoveUnit(pos Position) *BoardUnit {
	u := p.Board.Remove(pos)
	if u == nil {
		return nil
	}
	p.Graveyard = append(p.Graveyard, u.CardID)
	return u
}

// Clone returns a deep copy of the player state.
func (p *PlayerState) Clone() *PlayerState {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Hand = append([]HandCard(nil), p.Hand...)
	cpy.Deck = append([]string(nil), p.Deck...)
	cpy.Graveyard = append([]string(nil), p.Graveyard...)
	cpy.Board = p.Board.Clone()
	cpy.Quest = p.Quest.Clone()
	return &cpy
}

// Session is the authoritative state of one match.
type Session struct {
	ID            string                  `json:"id"`
	Players       [2]string               `json:"players"`
	PlayerStates  map[string]*PlayerState `json:"player_states"`
	CurrentPlayer string                  `json:"current_player"`
	Turn          int                     `json:"turn"`
	Phase         Phase                   `json:"phase"`
	Status        Status                  `json:"status"`

	TurnDuration time.Duration `json:"turn_duration"`
	// TimeRemaining is stored at hand-over and on pause. Engine.Session
	// overwrites it with the live countdown.
	TimeRemaining time.Duration `json:"time_remaining"`
	Paused        bool          `json:"paused,omitempty"`

	// Version is the optimistic-lock token. It changes exactly once per
	// accepted mutation.
	Version int64        `json:"version"`
	History []GameAction `json:"history"`

	GameOver     bool         `json:"game_over"`
	Winner       string       `json:"winner,omitempty"`
	WinCondition WinCondition `json:"win_condition,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActionAt time.Time `json:"last_action_at"`
}

// NewSession creates a waiting session for two players.
func NewSession(id string, a, b *PlayerState, turnDuration time.Duration, now time.Time) *Session {
	return &Session{
		ID:      id,
		Players: [2]string{a.PlayerID, b.PlayerID},
		PlayerStates: map[string]*PlayerState{
			a.PlayerID: a,
			b.PlayerID: b,
		},
		Phase:         PhaseResources,
		Status:        StatusWaiting,
		TurnDuration:  turnDuration,
		TimeRemaining: turnDuration,
		CreatedAt:     now,
		LastActionAt:  now,
	}
}

// Player returns the state of a participant, or nil for strangers.
func (s *Session) Player(playerID string) *PlayerState {
	return s.PlayerStates[playerID]
}

// HasPlayer reports whether playerID takes part in the session.
func (s *Session) HasPlayer(playerID string) bool {
	return playerID != "" && (s.Players[0] == playerID || s.Players[1] == playerID)
}

// OpponentID returns the other participant's id.
func (s *Session) OpponentID(playerID string) string {
	switch playerID {
	case s.Players[0]:
		return s.Players[1]
	case s.Players[1]:
		return s.Players[0]
	}
	return ""
}

// Opponent returns the other participant's state.
func (s *Session) Opponent(playerID string) *PlayerState {
	return s.PlayerStates[s.OpponentID(playerID)]
}

// Current returns the state of the player whose turn it is.
func (s *Session) Current() *PlayerState {
	return s.PlayerStates[s.CurrentPlayer]
}

// Active reports whether the session accepts game actions.
func (s *Session) Active() bool {
	return s.Status == StatusActive && !s.GameOver
}

// End finishes the session with a winner.
func (s *Session) End(winner string, cond WinCondition) {
	s.GameOver = true
	s.Winner = winner
	s.WinCondition = cond
	s.Status = StatusCompleted
}

// Clone returns a deep copy of the session. Recorded actions are immutable
// and shared between copies.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.PlayerStates = make(map[string]*PlayerState, len(s.PlayerStates))
	for id, p := range s.PlayerStates {
		cpy.PlayerStates[id] = p.Clone()
	}
	cpy.History = append([]GameAction(nil), s.History...)
	return &cpy
}
