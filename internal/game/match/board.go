package match

import (
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
)

// Position is a cell on a player board.
type Position = catalog.Position

// TimedEffect is a temporary modifier on a board unit. TurnsRemaining counts
// the owner's turn starts left before the effect expires.
type TimedEffect struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SourceCardID   string `json:"source_card_id,omitempty"`
	Attack         int    `json:"attack,omitempty"`
	TurnsRemaining int    `json:"turns_remaining"`
}

// BoardUnit is a card instance placed on the grid.
type BoardUnit struct {
	InstanceID string          `json:"instance_id"`
	CardID     string          `json:"card_id"`
	Name       string          `json:"name"`
	Owner      string          `json:"owner"`
	Faction    catalog.Faction `json:"faction"`
	Cost       int             `json:"cost"`
	Attack     int             `json:"attack"`
	Health     int             `json:"health"`
	MaxHealth  int             `json:"max_health"`
	Range      int             `json:"range"`
	Abilities  []string        `json:"abilities,omitempty"`
	Position   Position        `json:"position"`

	CanAttack        bool `json:"can_attack"`
	HasAttacked      bool `json:"has_attacked"`
	SummonedThisTurn bool `json:"summoned_this_turn"`

	Effects []TimedEffect `json:"effects,omitempty"`

	// LineBonuses lists the lines ("row:1", "col:3") this unit was already
	// rewarded for by the line-completion passive.
	LineBonuses []string `json:"line_bonuses,omitempty"`
	Resurrected bool     `json:"resurrected,omitempty"`
}

// NewBoardUnit creates a freshly summoned unit from a card definition.
func NewBoardUnit(instanceID, owner string, def catalog.CardDefinition, pos Position) *BoardUnit {
	return &BoardUnit{
		InstanceID:       instanceID,
		CardID:           def.ID,
		Name:             def.Name,
		Owner:            owner,
		Faction:          def.Faction,
		Cost:             def.Cost,
		Attack:           def.Attack,
		Health:           def.Health,
		MaxHealth:        def.Health,
		Range:            def.Range,
		Abilities:        append([]string(nil), def.Abilities...),
		Position:         pos,
		SummonedThisTurn: true,
	}
}

// EffectiveAttack returns base attack plus active timed modifiers, never negative.
func (u *BoardUnit) EffectiveAttack() int {
	attack := u.Attack
	for _, effect := range u.Effects {
		attack += effect.Attack
	}
	if attack < 0 {
		return 0
	}
	return attack
}

// HasLineBonus reports whether the unit was rewarded for the given line.
func (u *BoardUnit) HasLineBonus(line string) bool {
	for _, l := range u.LineBonuses {
		if l == line {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the unit.
func (u *BoardUnit) Clone() *BoardUnit {
	if u == nil {
		return nil
	}
	cpy := *u
	cpy.Abilities = append([]string(nil), u.Abilities...)
	cpy.Effects = append([]TimedEffect(nil), u.Effects...)
	cpy.LineBonuses = append([]string(nil), u.LineBonuses...)
	return &cpy
}

// Board is a fixed 3x5 grid of optional units.
type Board [catalog.Rows][catalog.Cols]*BoardUnit

// At returns the unit at p, or nil when the cell is empty or out of bounds.
func (b *Board) At(p Position) *BoardUnit {
	if !p.InBounds() {
		return nil
	}
	return b[p.Row][p.Col]
}

// Occupied reports whether a unit stands at p.
func (b *Board) Occupied(p Position) bool {
	return b.At(p) != nil
}

// Place puts u at p and records the position on the unit.
func (b *Board) Place(p Position, u *BoardUnit) {
	u.Position = p
	b[p.Row][p.Col] = u
}

// Remove clears p and returns the unit that stood there.
func (b *Board) Remove(p Position) *BoardUnit {
	if !p.InBounds() {
		return nil
	}
	u := b[p.Row][p.Col]
	b[p.Row][p.Col] = nil
	return u
}

// Units returns the units on the board in row-major order.
func (b *Board) Units() []*BoardUnit {
	var units []*BoardUnit
	for r := 0; r < catalog.Rows; r++ {
		for c := 0; c < catalog.Cols; c++ {
			if u := b[r][c]; u != nil {
				units = append(units, u)
			}
		}
	}
	return units
}

// Count returns the number of units on the board.
func (b *Board) Count() int {
	n := 0
	for r := 0; r < catalog.Rows; r++ {
		for c := 0; c < catalog.Cols; c++ {
			if b[r][c] != nil {
				n++
			}
		}
	}
	return n
}

// Find returns the unit with the given instance id.
func (b *Board) Find(instanceID string) (*BoardUnit, bool) {
	for _, u := range b.Units() {
		if u.InstanceID == instanceID {
			return u, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() Board {
	var cpy Board
	for r := 0; r < catalog.Rows; r++ {
		for c := 0; c < catalog.Cols; c++ {
			cpy[r][c] = b[r][c].Clone()
		}
	}
	return cpy
}
