package catalog

import (
	"fmt"
)

// Grid dimensions shared by every player board.
const (
	Rows = 3
	Cols = 5
)

// Faction identifies one of the three playable factions.
type Faction string

const (
	FactionHuman Faction = "human"
	FactionAlien Faction = "alien"
	FactionRobot Faction = "robot"
)

// Factions returns every playable faction in catalog order.
func Factions() []Faction {
	return []Faction{FactionHuman, FactionAlien, FactionRobot}
}

// Valid reports whether f names a playable faction.
func (f Faction) Valid() bool {
	_, ok := formations[f]
	return ok
}

func (f Faction) String() string {
	return string(f)
}

// Position addresses one cell of a player board. Row 0 is the front row.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// InBounds reports whether p lies inside the 3x5 grid.
func (p Position) InBounds() bool {
	return p.Row >= 0 && p.Row < Rows && p.Col >= 0 && p.Col < Cols
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// FormationPattern marks the cells a faction may place units on.
type FormationPattern [Rows][Cols]bool

// PassiveTrigger is the event class that fires a faction passive.
type PassiveTrigger string

const (
	TriggerLineComplete PassiveTrigger = "line_complete"
	TriggerOnDeath      PassiveTrigger = "on_death"
	TriggerOnDestroy    PassiveTrigger = "on_destroy"
)

// Passive effect names.
const (
	EffectLineBonus     = "line_bonus"
	EffectCostReduction = "cost_reduction"
	EffectResurrection  = "resurrection"
)

// PassiveDefinition describes a faction-wide automatic rule.
type PassiveDefinition struct {
	Name    string         `json:"name"`
	Trigger PassiveTrigger `json:"trigger"`
	Effect  string         `json:"effect"`

	AttackBonus     int     `json:"attack_bonus,omitempty"`
	HealthBonus     int     `json:"health_bonus,omitempty"`
	CostReduction   int     `json:"cost_reduction,omitempty"`
	Chance          float64 `json:"chance,omitempty"`
	ResurrectHealth int     `json:"resurrect_health,omitempty"`
}

// Formation bundles a faction's placement pattern and passive.
type Formation struct {
	Faction Faction
	Pattern FormationPattern
	Passive PassiveDefinition
}

var formations = map[Faction]Formation{
	FactionHuman: {
		Faction: FactionHuman,
		Pattern: parsePattern(
			".XXX.",
			"XXXXX",
			".XXX.",
		),
		Passive: PassiveDefinition{
			Name:        "Shield Wall",
			Trigger:     TriggerLineComplete,
			Effect:      EffectLineBonus,
			AttackBonus: 1,
			HealthBonus: 1,
		},
	},
	FactionAlien: {
		Faction: FactionAlien,
		Pattern: parsePattern(
			"X.X.X",
			".XXX.",
			"X.X.X",
		),
		Passive: PassiveDefinition{
			Name:          "Hive Memory",
			Trigger:       TriggerOnDeath,
			Effect:        EffectCostReduction,
			CostReduction: 1,
		},
	},
	FactionRobot: {
		Faction: FactionRobot,
		Pattern: parsePattern(
			"XXXXX",
			".X.X.",
			"..X..",
		),
		Passive: PassiveDefinition{
			Name:            "Reboot Protocol",
			Trigger:         TriggerOnDestroy,
			Effect:          EffectResurrection,
			Chance:          0.30,
			ResurrectHealth: 1,
		},
	},
}

func parsePattern(rows ...string) FormationPattern {
	var pattern FormationPattern
	for r, line := range rows {
		for c, ch := range line {
			pattern[r][c] = ch == 'X'
		}
	}
	return pattern
}

// FormationFor returns the formation of a faction.
func FormationFor(f Faction) (Formation, bool) {
	formation, ok := formations[f]
	return formation, ok
}

// PassiveFor returns the passive ability definition of a faction.
func PassiveFor(f Faction) (PassiveDefinition, bool) {
	formation, ok := formations[f]
	if !ok {
		return PassiveDefinition{}, false
	}
	return formation.Passive, true
}

// IsValidPosition reports whether the faction may place a unit at p.
// Out-of-bounds positions are never valid.
func IsValidPosition(f Faction, p Position) bool {
	if !p.InBounds() {
		return false
	}
	formation, ok := formations[f]
	if !ok {
		return false
	}
	return formation.Pattern[p.Row][p.Col]
}

// ValidPositions returns the faction's formation cells in row-major order.
func ValidPositions(f Faction) []Position {
	formation, ok := formations[f]
	if !ok {
		return nil
	}
	positions := make([]Position, 0, Rows*Cols)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if formation.Pattern[r][c] {
				positions = append(positions, Position{Row: r, Col: c})
			}
		}
	}
	return positions
}
