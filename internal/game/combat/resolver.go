package combat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

var (
	// ErrNoAttacker is returned when the attacking cell is empty.
	ErrNoAttacker = errors.New("no attacking unit at position")
	// ErrNoTarget is returned when the targeted cell is empty.
	ErrNoTarget = errors.New("no target unit at position")
	// ErrUnknownPlayer is returned for ids outside the session.
	ErrUnknownPlayer = errors.New("player not in session")
)

// RangeResult is the outcome of a range and line-of-sight check.
type RangeResult struct {
	InRange     bool        `json:"in_range"`
	Distance    int         `json:"distance"`
	LineOfSight bool        `json:"line_of_sight"`
	BlockedBy   *BoardCell  `json:"blocked_by,omitempty"`
	Path        []BoardCell `json:"path"`
}

// CanHit reports whether the shot is both in range and unobstructed.
func (r RangeResult) CanHit() bool {
	return r.InRange && r.LineOfSight
}

// UnitOutcome describes what one attack or spell did to one unit.
type UnitOutcome struct {
	InstanceID  string         `json:"instance_id"`
	CardID      string         `json:"card_id"`
	Owner       string         `json:"owner"`
	Position    match.Position `json:"position"`
	DamageTaken int            `json:"damage_taken"`
	Healed      int            `json:"healed,omitempty"`
	NewHealth   int            `json:"new_health"`
	Destroyed   bool           `json:"destroyed"`
}

// AttackResult is the authoritative description of one attack. Effects and
// Quests are filled in by the caller once passives and quests ran.
type AttackResult struct {
	Attacker UnitOutcome `json:"attacker"`
	Target   UnitOutcome `json:"target"`

	// Deaths lists the destroyed units in destruction order.
	Deaths []*match.BoardUnit `json:"-"`

	Effects []match.EffectDescriptor `json:"effects,omitempty"`
	Quests  []match.QuestDelta       `json:"quests,omitempty"`
}

// SpellResult describes a resolved spell.
type SpellResult struct {
	CardID string                 `json:"card_id"`
	Effect match.EffectDescriptor `json:"effect"`
	Target *UnitOutcome           `json:"target,omitempty"`
	Deaths []*match.BoardUnit     `json:"-"`
}

// Resolver computes range, line of sight and damage outcomes.
type Resolver struct{}

// NewResolver creates a combat resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ValidateRange checks whether the unit at from on the attacker's board can
// reach to on the opponent's board. Distance is Manhattan in lane
// coordinates; any occupied cell strictly between the two endpoints on
// either board blocks the shot.
func (r *Resolver) ValidateRange(s *match.Session, attackerID string, from, to match.Position, maxRange int) RangeResult {
	defenderID := s.OpponentID(attackerID)
	attacker := s.Player(attackerID)
	defender := s.Player(defenderID)

	start := attackerCell(from)
	end := defenderCell(to)
	result := RangeResult{
		Distance:    Distance(start, end),
		LineOfSight: true,
	}
	result.InRange = result.Distance <= maxRange

	line := Line(start, end)
	result.Path = make([]BoardCell, 0, len(line))
	for i, cell := range line {
		bc := unproject(cell, attackerID, defenderID)
		result.Path = append(result.Path, bc)
		if i == 0 || i == len(line)-1 || !result.LineOfSight {
			continue
		}
		var board *match.Board
		if bc.PlayerID == attackerID && attacker != nil {
			board = &attacker.Board
		} else if bc.PlayerID == defenderID && defender != nil {
			board = &defender.Board
		}
		if board != nil && board.Occupied(bc.Position) {
			blocker := bc
			result.LineOfSight = false
			result.BlockedBy = &blocker
		}
	}
	return result
}

// ExecuteAttack resolves an already validated attack. Damage is symmetric:
// the target takes the attacker's attack and counters with its own. Units
// brought to 0 health are destroyed, defender first.
func (r *Resolver) ExecuteAttack(s *match.Session, attackerID string, from, to match.Position) (*AttackResult, error) {
	attackerState := s.Player(attackerID)
	defenderState := s.Opponent(attackerID)
	if attackerState == nil || defenderState == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, attackerID)
	}
	attacker := attackerState.Board.At(from)
	if attacker == nil {
		return nil, fmt.Errorf("%w %s", ErrNoAttacker, from)
	}
	target := defenderState.Board.At(to)
	if target == nil {
		return nil, fmt.Errorf("%w %s", ErrNoTarget, to)
	}

	dealt := attacker.EffectiveAttack()
	countered := target.EffectiveAttack()

	target.Health = clampHealth(target.Health - dealt)
	attacker.Health = clampHealth(attacker.Health - countered)
	attacker.HasAttacked = true
	attacker.CanAttack = false

	attackerState.Counters.DamageDealt += dealt
	defenderState.Counters.DamageDealt += countered

	result := &AttackResult{
		Attacker: outcome(attacker, countered),
		Target:   outcome(target, dealt),
	}

	if target.Health == 0 {
		result.Deaths = append(result.Deaths, destroy(defenderState, attackerState, target))
		result.Target.Destroyed = true
	}
	if attacker.Health == 0 {
		result.Deaths = append(result.Deaths, destroy(attackerState, defenderState, attacker))
		result.Attacker.Destroyed = true
	}
	return result, nil
}

// ResolveSpell applies a spell cast by casterID. Damage spells target the
// opponent's board; heal and empower target the caster's own board.
func (r *Resolver) ResolveSpell(s *match.Session, casterID string, card catalog.CardDefinition, target *match.Position) (*SpellResult, error) {
	if !card.IsSpell() {
		return nil, fmt.Errorf("card %s is not a spell", card.ID)
	}
	caster := s.Player(casterID)
	opponent := s.Opponent(casterID)
	if caster == nil || opponent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, casterID)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: spell %s has no target", ErrNoTarget, card.ID)
	}

	spell := *card.Spell
	owner := caster
	if spell.TargetsEnemy() {
		owner = opponent
	}
	unit := owner.Board.At(*target)
	if unit == nil {
		return nil, fmt.Errorf("%w %s", ErrNoTarget, *target)
	}

	result := &SpellResult{
		CardID: card.ID,
		Effect: match.EffectDescriptor{
			Effect:    string(spell.Effect),
			PlayerID:  casterID,
			Positions: []match.Position{*target},
			Params:    map[string]int{"amount": spell.Amount},
		},
	}

	switch spell.Effect {
	case catalog.SpellDamage:
		unit.Health = clampHealth(unit.Health - spell.Amount)
		caster.Counters.DamageDealt += spell.Amount
		out := outcome(unit, spell.Amount)
		if unit.Health == 0 {
			result.Deaths = append(result.Deaths, destroy(opponent, caster, unit))
			out.Destroyed = true
		}
		result.Target = &out
	case catalog.SpellHeal:
		before := unit.Health
		unit.Health += spell.Amount
		if unit.Health > unit.MaxHealth {
			unit.Health = unit.MaxHealth
		}
		out := outcome(unit, 0)
		out.Healed = unit.Health - before
		result.Target = &out
	case catalog.SpellEmpower:
		unit.Effects = append(unit.Effects, match.TimedEffect{
			ID:             uuid.NewString(),
			Name:           string(catalog.SpellEmpower),
			SourceCardID:   card.ID,
			Attack:         spell.Amount,
			TurnsRemaining: spell.Duration,
		})
		result.Effect.Params["duration"] = spell.Duration
		out := outcome(unit, 0)
		result.Target = &out
	default:
		return nil, fmt.Errorf("unsupported spell effect %q", spell.Effect)
	}

	caster.Counters.SpellsCast++
	return result, nil
}

// Events renders the attack as broadcastable result events.
func (a *AttackResult) Events() []match.Event {
	events := []match.Event{
		damageEvent(a.Target),
		damageEvent(a.Attacker),
	}
	for _, u := range a.Deaths {
		events = append(events, match.NewUnitEvent(match.EventCardDestroyed, u, 0))
	}
	return events
}

// Events renders the spell as broadcastable result events, starting with
// the single spell_cast event.
func (sr *SpellResult) Events() []match.Event {
	evt := match.NewEvent(match.EventSpellCast, sr.Effect.PlayerID)
	evt.CardID = sr.CardID
	evt.Amount = sr.Effect.Params["amount"]
	if len(sr.Effect.Positions) > 0 {
		pos := sr.Effect.Positions[0]
		evt.Position = &pos
	}
	events := []match.Event{evt}
	if sr.Target != nil && sr.Target.DamageTaken > 0 {
		events = append(events, damageEvent(*sr.Target))
	} else {
		events = append(events, match.NewEffectEvent(sr.Effect))
	}
	for _, u := range sr.Deaths {
		events = append(events, match.NewUnitEvent(match.EventCardDestroyed, u, 0))
	}
	return events
}

func damageEvent(o UnitOutcome) match.Event {
	evt := match.NewEvent(match.EventDamageDealt, o.Owner)
	pos := o.Position
	evt.CardID = o.CardID
	evt.InstanceID = o.InstanceID
	evt.Position = &pos
	evt.Amount = o.DamageTaken
	return evt
}

func destroy(owner, killer *match.PlayerState, u *match.BoardUnit) *match.BoardUnit {
	removed := owner.RemoveUnit(u.Position)
	owner.Counters.UnitsLost++
	if killer != nil {
		killer.Counters.UnitsKilled++
	}
	return removed
}

func outcome(u *match.BoardUnit, damage int) UnitOutcome {
	return UnitOutcome{
		InstanceID:  u.InstanceID,
		CardID:      u.CardID,
		Owner:       u.Owner,
		Position:    u.Position,
		DamageTaken: damage,
		NewHealth:   u.Health,
	}
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	return h
}
