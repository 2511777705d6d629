package quest

import (
	"sort"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

// Category groups objectives by play style.
type Category string

const (
	CategoryElimination Category = "elimination"
	CategoryTerritory   Category = "territory"
	CategorySynergy     Category = "synergy"
	CategorySurvival    Category = "survival"
	CategoryResource    Category = "resource"
)

// survivalUnits is the board presence a survival turn requires.
const survivalUnits = 3

// Observation is what a condition sees for one player after one action.
type Observation struct {
	Session *match.Session
	Action  match.Action
	ActorID string
	Player  *match.PlayerState
	Before  match.Counters
}

// Condition returns the raw progress a player made with one action.
type Condition func(o Observation) int

// Definition is one hidden objective.
type Definition struct {
	ID          string
	Name        string
	Faction     catalog.Faction
	Category    Category
	Target      int
	Milestones  []int
	Description string
	Condition   Condition
}

func counterDelta(get func(c match.Counters) int) Condition {
	return func(o Observation) int {
		return get(o.Player.Counters) - get(o.Before)
	}
}

// occupancy counts board presence above what was already credited.
func occupancy(o Observation) int {
	return o.Player.Board.Count() - o.Player.Quest.Current
}

// heldTurn credits the owner for ending a turn with enough units on board.
func heldTurn(o Observation) int {
	if o.ActorID != o.Player.PlayerID {
		return 0
	}
	if _, ok := o.Action.(match.EndTurn); !ok {
		return 0
	}
	if o.Player.Board.Count() < survivalUnits {
		return 0
	}
	return 1
}

var definitions = []Definition{
	{
		ID: "human_vanguard_purge", Name: "Vanguard Purge", Faction: catalog.FactionHuman,
		Category: CategoryElimination, Target: 5, Milestones: []int{2, 4},
		Description: "Destroy 5 enemy units.",
		Condition:   counterDelta(func(c match.Counters) int { return c.UnitsKilled }),
	},
	{
		ID: "human_hold_the_field", Name: "Hold the Field", Faction: catalog.FactionHuman,
		Category: CategoryTerritory, Target: 8, Milestones: []int{4, 6},
		Description: "Occupy 8 cells of your formation at once.",
		Condition:   occupancy,
	},
	{
		ID: "human_shield_brothers", Name: "Shield Brothers", Faction: catalog.FactionHuman,
		Category: CategorySynergy, Target: 3, Milestones: []int{1, 2},
		Description: "Complete 3 lines.",
		Condition:   counterDelta(func(c match.Counters) int { return c.LinesCompleted }),
	},
	{
		ID: "alien_cull", Name: "Cull the Weak", Faction: catalog.FactionAlien,
		Category: CategoryElimination, Target: 4, Milestones: []int{2, 3},
		Description: "Destroy 4 enemy units.",
		Condition:   counterDelta(func(c match.Counters) int { return c.UnitsKilled }),
	},
	{
		ID: "alien_biomass_harvest", Name: "Biomass Harvest", Faction: catalog.FactionAlien,
		Category: CategoryResource, Target: 25, Milestones: []int{10, 18},
		Description: "Spend 25 resources.",
		Condition:   counterDelta(func(c match.Counters) int { return c.ResourcesSpent }),
	},
	{
		ID: "alien_endless_swarm", Name: "Endless Swarm", Faction: catalog.FactionAlien,
		Category: CategorySynergy, Target: 6, Milestones: []int{2, 4},
		Description: "Lose 6 of your own units.",
		Condition:   counterDelta(func(c match.Counters) int { return c.UnitsLost }),
	},
	{
		ID: "robot_iron_bastion", Name: "Iron Bastion", Faction: catalog.FactionRobot,
		Category: CategorySurvival, Target: 5, Milestones: []int{2, 4},
		Description: "End 5 turns with at least 3 units on the board.",
		Condition:   heldTurn,
	},
	{
		ID: "robot_reboot_cycle", Name: "Reboot Cycle", Faction: catalog.FactionRobot,
		Category: CategorySynergy, Target: 3, Milestones: []int{1, 2},
		Description: "Resurrect 3 units.",
		Condition:   counterDelta(func(c match.Counters) int { return c.Resurrections }),
	},
	{
		ID: "robot_scrap_barrage", Name: "Scrap Barrage", Faction: catalog.FactionRobot,
		Category: CategoryElimination, Target: 25, Milestones: []int{10, 18},
		Description: "Deal 25 damage.",
		Condition:   counterDelta(func(c match.Counters) int { return c.DamageDealt }),
	},
}

var byID = func() map[string]Definition {
	m := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		m[def.ID] = def
	}
	return m
}()

// Lookup returns a quest definition by id.
func Lookup(id string) (Definition, bool) {
	def, ok := byID[id]
	return def, ok
}

// ForFaction returns a faction's objectives sorted by id.
func ForFaction(f catalog.Faction) []Definition {
	var defs []Definition
	for _, def := range definitions {
		if def.Faction == f {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// All returns every objective.
func All() []Definition {
	return append([]Definition(nil), definitions...)
}
