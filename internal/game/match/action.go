package match

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a player command.
type ActionType string

const (
	ActionPlaceUnit ActionType = "place_unit"
	ActionAttack    ActionType = "attack"
	ActionCastSpell ActionType = "cast_spell"
	ActionEndTurn   ActionType = "end_turn"
	ActionSurrender ActionType = "surrender"
)

var (
	// ErrUnknownActionType is returned for an action type outside the union.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrMalformedPayload is returned when a payload does not fit its type.
	ErrMalformedPayload = errors.New("malformed action payload")
)

// Action is the typed payload of a player command. Each variant carries only
// its own fields.
type Action interface {
	Type() ActionType
}

// PlaceUnit puts a unit card from hand onto the actor's board.
type PlaceUnit struct {
	HandIndex int      `json:"hand_index"`
	CardID    string   `json:"card_id"`
	Position  Position `json:"position"`
}

// Attack orders the unit at From on the actor's board to strike the enemy
// unit at To.
type Attack struct {
	From Position `json:"from"`
	To   Position `json:"to"`
}

// CastSpell plays a spell card from hand. Target addresses the enemy board
// for damage spells and the actor's board otherwise.
type CastSpell struct {
	HandIndex int       `json:"hand_index"`
	CardID    string    `json:"card_id"`
	Target    *Position `json:"target,omitempty"`
}

// EndTurn passes the turn. Reason is "timeout" for timer-synthesized actions.
type EndTurn struct {
	Reason string `json:"reason,omitempty"`
}

// Surrender concedes the match.
type Surrender struct{}

func (PlaceUnit) Type() ActionType { return ActionPlaceUnit }
func (Attack) Type() ActionType    { return ActionAttack }
func (CastSpell) Type() ActionType { return ActionCastSpell }
func (EndTurn) Type() ActionType   { return ActionEndTurn }
func (Surrender) Type() ActionType { return ActionSurrender }

// EndTurnTimeout is the reason recorded on turns ended by the timer.
const EndTurnTimeout = "timeout"

type placeUnitWire struct {
	HandIndex *int      `json:"hand_index"`
	CardID    string    `json:"card_id"`
	Position  *Position `json:"position"`
}

type attackWire struct {
	From *Position `json:"from"`
	To   *Position `json:"to"`
}

type castSpellWire struct {
	HandIndex *int      `json:"hand_index"`
	CardID    string    `json:"card_id"`
	Target    *Position `json:"target"`
}

// DecodeAction turns a raw payload into the variant named by t. Required
// fields must be present; unknown fields are rejected.
func DecodeAction(t ActionType, raw json.RawMessage) (Action, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	switch t {
	case ActionPlaceUnit:
		var w placeUnitWire
		if err := strictUnmarshal(raw, &w); err != nil {
			return nil, err
		}
		if w.HandIndex == nil || w.Position == nil || w.CardID == "" {
			return nil, fmt.Errorf("%w: place_unit requires hand_index, card_id and position", ErrMalformedPayload)
		}
		return PlaceUnit{HandIndex: *w.HandIndex, CardID: w.CardID, Position: *w.Position}, nil
	case ActionAttack:
		var w attackWire
		if err := strictUnmarshal(raw, &w); err != nil {
			return nil, err
		}
		if w.From == nil || w.To == nil {
			return nil, fmt.Errorf("%w: attack requires from and to", ErrMalformedPayload)
		}
		return Attack{From: *w.From, To: *w.To}, nil
	case ActionCastSpell:
		var w castSpellWire
		if err := strictUnmarshal(raw, &w); err != nil {
			return nil, err
		}
		if w.HandIndex == nil || w.CardID == "" {
			return nil, fmt.Errorf("%w: cast_spell requires hand_index and card_id", ErrMalformedPayload)
		}
		return CastSpell{HandIndex: *w.HandIndex, CardID: w.CardID, Target: w.Target}, nil
	case ActionEndTurn:
		var a EndTurn
		if !empty {
			if err := strictUnmarshal(raw, &a); err != nil {
				return nil, err
			}
		}
		return a, nil
	case ActionSurrender:
		return Surrender{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Envelope is the wire form of a command: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes a wire command into its typed action.
func ParseEnvelope(data []byte) (Action, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return DecodeAction(env.Type, env.Payload)
}

// GameAction is the immutable record of one accepted command.
type GameAction struct {
	ID        string
	PlayerID  string
	Type      ActionType
	Turn      int
	Phase     Phase
	Payload   Action
	Timestamp time.Time
	Valid     bool
	Cost      int
}

// NewGameAction records an action issued at the session's current turn and phase.
func NewGameAction(s *Session, playerID string, a Action, now time.Time) GameAction {
	return GameAction{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		Type:      a.Type(),
		Turn:      s.Turn,
		Phase:     s.Phase,
		Payload:   a,
		Timestamp: now,
	}
}

type gameActionWire struct {
	ID        string          `json:"id"`
	PlayerID  string          `json:"player_id"`
	Type      ActionType      `json:"type"`
	Turn      int             `json:"turn"`
	Phase     Phase           `json:"phase"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Valid     bool            `json:"valid"`
	Cost      int             `json:"cost"`
}

// MarshalJSON implements json.Marshaler.
func (a GameAction) MarshalJSON() ([]byte, error) {
	w := gameActionWire{
		ID:        a.ID,
		PlayerID:  a.PlayerID,
		Type:      a.Type,
		Turn:      a.Turn,
		Phase:     a.Phase,
		Timestamp: a.Timestamp,
		Valid:     a.Valid,
		Cost:      a.Cost,
	}
	if a.Payload != nil {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", a.Type, err)
		}
		w.Payload = payload
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *GameAction) UnmarshalJSON(data []byte) error {
	var w gameActionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodeAction(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*a = GameAction{
		ID:        w.ID,
		PlayerID:  w.PlayerID,
		Type:      w.Type,
		Turn:      w.Turn,
		Phase:     w.Phase,
		Payload:   payload,
		Timestamp: w.Timestamp,
		Valid:     w.Valid,
		Cost:      w.Cost,
	}
	return nil
}
