package catalog

import (
	"sort"
)

// CardType distinguishes units, which occupy the board, from spells.
type CardType string

const (
	CardTypeUnit  CardType = "unit"
	CardTypeSpell CardType = "spell"
)

// SpellEffect names the resolution rule of a spell card.
type SpellEffect string

const (
	// SpellDamage deals Amount damage to an enemy unit.
	SpellDamage SpellEffect = "damage"
	// SpellHeal restores Amount health to a friendly unit, up to its max.
	SpellHeal SpellEffect = "heal"
	// SpellEmpower grants +Amount attack to a friendly unit for Duration turns.
	SpellEmpower SpellEffect = "empower"
)

// SpellDefinition holds the parameters of a spell card.
type SpellDefinition struct {
	Effect   SpellEffect `json:"effect"`
	Amount   int         `json:"amount"`
	Duration int         `json:"duration,omitempty"`
}

// TargetsEnemy reports whether the spell is aimed at the opponent's board.
func (s SpellDefinition) TargetsEnemy() bool {
	return s.Effect == SpellDamage
}

// CardDefinition is the static, immutable description of a card.
// An empty Faction marks a neutral card available to every faction.
type CardDefinition struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Faction   Faction          `json:"faction,omitempty"`
	Type      CardType         `json:"type"`
	Cost      int              `json:"cost"`
	Attack    int              `json:"attack,omitempty"`
	Health    int              `json:"health,omitempty"`
	Range     int              `json:"range,omitempty"`
	Abilities []string         `json:"abilities,omitempty"`
	Spell     *SpellDefinition `json:"spell,omitempty"`
}

// IsUnit reports whether the card is placed on the board.
func (c CardDefinition) IsUnit() bool {
	return c.Type == CardTypeUnit
}

// IsSpell reports whether the card resolves as a spell.
func (c CardDefinition) IsSpell() bool {
	return c.Type == CardTypeSpell && c.Spell != nil
}

// CardLookup gives read-only access to card definitions.
type CardLookup interface {
	Card(id string) (CardDefinition, bool)
}

// Shuffler randomizes deck order.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Cards is an immutable card catalog keyed by card id.
type Cards struct {
	byID  map[string]CardDefinition
	order []string
}

// NewCards builds a catalog from the given definitions. Later definitions
// with a duplicate id replace earlier ones.
func NewCards(defs ...CardDefinition) *Cards {
	c := &Cards{byID: make(map[string]CardDefinition, len(defs))}
	for _, def := range defs {
		if _, exists := c.byID[def.ID]; !exists {
			c.order = append(c.order, def.ID)
		}
		c.byID[def.ID] = def
	}
	return c
}

// DefaultCards returns the standard card pool.
func DefaultCards() *Cards {
	return NewCards(defaultCardDefinitions()...)
}

// Card implements CardLookup.
func (c *Cards) Card(id string) (CardDefinition, bool) {
	if c == nil {
		return CardDefinition{}, false
	}
	def, ok := c.byID[id]
	return def, ok
}

// All returns every definition in insertion order.
func (c *Cards) All() []CardDefinition {
	defs := make([]CardDefinition, 0, len(c.order))
	for _, id := range c.order {
		defs = append(defs, c.byID[id])
	}
	return defs
}

// ForFaction returns the cards playable by a faction, neutrals included,
// sorted by cost then id.
func (c *Cards) ForFaction(f Faction) []CardDefinition {
	var defs []CardDefinition
	for _, id := range c.order {
		def := c.byID[id]
		if def.Faction == "" || def.Faction == f {
			defs = append(defs, def)
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Cost != defs[j].Cost {
			return defs[i].Cost < defs[j].Cost
		}
		return defs[i].ID < defs[j].ID
	})
	return defs
}

// StarterDeck builds a deck of card ids for a faction by cycling through its
// playable cards, then shuffles it when a shuffler is provided.
func (c *Cards) StarterDeck(f Faction, size int, shuffler Shuffler) []string {
	pool := c.ForFaction(f)
	if len(pool) == 0 || size <= 0 {
		return nil
	}
	deck := make([]string, size)
	for i := range deck {
		deck[i] = pool[i%len(pool)].ID
	}
	if shuffler != nil {
		shuffler.Shuffle(len(deck), func(i, j int) {
			deck[i], deck[j] = deck[j], deck[i]
		})
	}
	return deck
}

func unit(id, name string, f Faction, cost, attack, health, rng int, abilities ...string) CardDefinition {
	return CardDefinition{
		ID:        id,
		Name:      name,
		Faction:   f,
		Type:      CardTypeUnit,
		Cost:      cost,
		Attack:    attack,
		Health:    health,
		Range:     rng,
		Abilities: abilities,
	}
}

func spell(id, name string, cost int, effect SpellEffect, amount, duration int) CardDefinition {
	return CardDefinition{
		ID:    id,
		Name:  name,
		Type:  CardTypeSpell,
		Cost:  cost,
		Spell: &SpellDefinition{Effect: effect, Amount: amount, Duration: duration},
	}
}

func defaultCardDefinitions() []CardDefinition {
	return []CardDefinition{
		unit("human_militia", "Militia", FactionHuman, 1, 1, 2, 1),
		unit("human_footman", "Footman", FactionHuman, 2, 2, 3, 1),
		unit("human_archer", "Archer", FactionHuman, 2, 2, 2, 3, "ranged"),
		unit("human_crossbowman", "Crossbowman", FactionHuman, 3, 3, 2, 4, "ranged"),
		unit("human_knight", "Knight", FactionHuman, 4, 4, 5, 1),
		unit("human_paladin", "Paladin", FactionHuman, 5, 4, 6, 2),

		unit("alien_drone", "Drone", FactionAlien, 1, 1, 1, 1),
		unit("alien_spitter", "Spitter", FactionAlien, 2, 2, 2, 3, "ranged"),
		unit("alien_stalker", "Stalker", FactionAlien, 3, 3, 3, 2),
		unit("alien_brood", "Brood Mother", FactionAlien, 4, 3, 5, 1),
		unit("alien_ravager", "Ravager", FactionAlien, 5, 5, 4, 2),

		unit("robot_scrapper", "Scrapper", FactionRobot, 1, 1, 2, 1),
		unit("robot_sentinel", "Sentinel", FactionRobot, 2, 2, 3, 1),
		unit("robot_turret", "Turret", FactionRobot, 3, 2, 3, 4, "ranged"),
		unit("robot_mech", "Mech", FactionRobot, 5, 5, 5, 1),
		unit("robot_artillery", "Artillery", FactionRobot, 4, 3, 2, 5, "ranged"),

		spell("spell_firebolt", "Firebolt", 2, SpellDamage, 3, 0),
		spell("spell_mend", "Mend", 1, SpellHeal, 3, 0),
		spell("spell_overclock", "Overclock", 2, SpellEmpower, 2, 2),
	}
}
