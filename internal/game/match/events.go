package match

import (
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
)

// EventType indicates the category of a result event.
type EventType string

const (
	EventCardPlaced    EventType = "card_placed"
	EventCardDestroyed EventType = "card_destroyed"
	EventDamageDealt   EventType = "damage_dealt"
	EventEffectApplied EventType = "effect_applied"
	EventQuestProgress EventType = "quest_progress"
	EventTurnEnded     EventType = "turn_ended"
	EventGameEnded     EventType = "game_ended"

	EventTurnStarted EventType = "turn_started"
	EventCardDrawn   EventType = "card_drawn"
	EventCardBurned  EventType = "card_burned"
	EventSpellCast   EventType = "spell_cast"
)

// EffectDescriptor describes one passive or spell effect that changed state.
type EffectDescriptor struct {
	Faction   catalog.Faction `json:"faction,omitempty"`
	Effect    string          `json:"effect"`
	PlayerID  string          `json:"player_id"`
	Positions []Position      `json:"positions,omitempty"`
	Params    map[string]int  `json:"params,omitempty"`
}

// QuestDelta describes progress made on a quest by one action.
type QuestDelta struct {
	PlayerID   string `json:"player_id"`
	QuestID    string `json:"quest_id"`
	Delta      int    `json:"delta"`
	Current    int    `json:"current"`
	Target     int    `json:"target"`
	Milestones []int  `json:"milestones,omitempty"`
	Completed  bool   `json:"completed"`
}

// Event is a typed result of an applied action, ready for broadcast.
type Event struct {
	Type       EventType         `json:"type"`
	SessionID  string            `json:"session_id"`
	PlayerID   string            `json:"player_id,omitempty"`
	Turn       int               `json:"turn"`
	CardID     string            `json:"card_id,omitempty"`
	InstanceID string            `json:"instance_id,omitempty"`
	Position   *Position         `json:"position,omitempty"`
	Amount     int               `json:"amount,omitempty"`
	Effect     *EffectDescriptor `json:"effect,omitempty"`
	Quest      *QuestDelta       `json:"quest,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewEvent creates an event with common fields populated. The timestamp is
// left for Stamp.
func NewEvent(eventType EventType, playerID string) Event {
	return Event{
		Type:     eventType,
		PlayerID: playerID,
	}
}

// NewUnitEvent creates an event about a board unit.
func NewUnitEvent(eventType EventType, u *BoardUnit, amount int) Event {
	evt := NewEvent(eventType, u.Owner)
	pos := u.Position
	evt.CardID = u.CardID
	evt.InstanceID = u.InstanceID
	evt.Position = &pos
	evt.Amount = amount
	return evt
}

// NewEffectEvent wraps an effect descriptor.
func NewEffectEvent(d EffectDescriptor) Event {
	evt := NewEvent(EventEffectApplied, d.PlayerID)
	evt.Effect = &d
	return evt
}

// NewQuestEvent wraps a quest delta.
func NewQuestEvent(d QuestDelta) Event {
	evt := NewEvent(EventQuestProgress, d.PlayerID)
	evt.Quest = &d
	return evt
}

// Stamp fills in the session id, plus the current turn and now on events
// that do not carry them yet.
func Stamp(events []Event, s *Session, now time.Time) []Event {
	for i := range events {
		events[i].SessionID = s.ID
		if events[i].Turn == 0 {
			events[i].Turn = s.Turn
		}
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = now
		}
	}
	return events
}
