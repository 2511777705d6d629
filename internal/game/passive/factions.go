package passive

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"go.uber.org/zap"
)

// line is a full row or column of the grid.
type line struct {
	key   string
	cells []match.Position
}

var gridLines = buildLines()

func buildLines() []line {
	var lines []line
	for r := 0; r < catalog.Rows; r++ {
		l := line{key: fmt.Sprintf("row:%d", r)}
		for c := 0; c < catalog.Cols; c++ {
			l.cells = append(l.cells, match.Position{Row: r, Col: c})
		}
		lines = append(lines, l)
	}
	for c := 0; c < catalog.Cols; c++ {
		l := line{key: fmt.Sprintf("col:%d", c)}
		for r := 0; r < catalog.Rows; r++ {
			l.cells = append(l.cells, match.Position{Row: r, Col: c})
		}
		lines = append(lines, l)
	}
	return lines
}

// CompletedLines returns the keys of fully occupied rows and columns.
func CompletedLines(b *match.Board) []string {
	var keys []string
	for _, l := range gridLines {
		full := true
		for _, p := range l.cells {
			if !b.Occupied(p) {
				full = false
				break
			}
		}
		if full {
			keys = append(keys, l.key)
		}
	}
	return keys
}

// lineComplete rewards units standing in completed lines. A unit is rewarded
// at most once per line over the whole game and at most once per pass.
func (e *Engine) lineComplete(ctx *Context, player *match.PlayerState, def catalog.PassiveDefinition) ([]match.EffectDescriptor, error) {
	var (
		rewarded []match.Position
		newLines int
	)
	seen := make(map[string]bool)

	for _, l := range gridLines {
		full := true
		for _, p := range l.cells {
			if !player.Board.Occupied(p) {
				full = false
				break
			}
		}
		if !full {
			continue
		}

		lineRewarded := false
		for _, p := range l.cells {
			u := player.Board.At(p)
			if u.HasLineBonus(l.key) {
				continue
			}
			u.LineBonuses = append(u.LineBonuses, l.key)
			lineRewarded = true
			if seen[u.InstanceID] {
				continue
			}
			seen[u.InstanceID] = true
			u.Attack += e.cfg.LineBonusAttack
			u.MaxHealth += e.cfg.LineBonusHealth
			u.Health += e.cfg.LineBonusHealth
			rewarded = append(rewarded, u.Position)
		}
		if lineRewarded {
			newLines++
		}
	}

	if len(rewarded) == 0 {
		return nil, nil
	}
	player.Counters.LinesCompleted += newLines
	return []match.EffectDescriptor{{
		Faction:   player.Faction,
		Effect:    def.Effect,
		PlayerID:  player.PlayerID,
		Positions: rewarded,
		Params: map[string]int{
			"attack": e.cfg.LineBonusAttack,
			"health": e.cfg.LineBonusHealth,
			"lines":  newLines,
		},
	}}, nil
}

// onDeath banks a cost reduction for each of the player's units that died.
// The bank is consumed by the next unit placement.
func (e *Engine) onDeath(ctx *Context, player *match.PlayerState, def catalog.PassiveDefinition) ([]match.EffectDescriptor, error) {
	deaths := ctx.deathsOf(player.PlayerID)
	if len(deaths) == 0 {
		return nil, nil
	}
	reduction := def.CostReduction * len(deaths)
	player.PendingCostReduction += reduction

	positions := make([]match.Position, 0, len(deaths))
	for _, u := range deaths {
		positions = append(positions, u.Position)
	}
	return []match.EffectDescriptor{{
		Faction:   player.Faction,
		Effect:    def.Effect,
		PlayerID:  player.PlayerID,
		Positions: positions,
		Params: map[string]int{
			"reduction": reduction,
			"pending":   player.PendingCostReduction,
		},
	}}, nil
}

// onDestroy rolls once per destroyed unit, in destruction order. A success
// brings back a copy at low health on the first free formation cell.
func (e *Engine) onDestroy(ctx *Context, player *match.PlayerState, def catalog.PassiveDefinition) ([]match.EffectDescriptor, error) {
	if e.roller == nil {
		return nil, fmt.Errorf("no roller configured for %s", def.Name)
	}
	health := def.ResurrectHealth
	if health <= 0 {
		health = 1
	}

	var effects []match.EffectDescriptor
	for _, dead := range ctx.deathsOf(player.PlayerID) {
		roll := e.roller.Float64()
		if roll >= e.cfg.ResurrectionChance {
			continue
		}
		cell, ok := firstFreeCell(player)
		if !ok {
			e.logger.Debug("resurrection skipped, formation full",
				zap.String("session_id", ctx.Session.ID),
				zap.String("player_id", player.PlayerID))
			break
		}

		revived := dead.Clone()
		revived.InstanceID = uuid.NewString()
		revived.Health = health
		revived.Effects = nil
		revived.LineBonuses = nil
		revived.SummonedThisTurn = true
		revived.CanAttack = false
		revived.HasAttacked = false
		revived.Resurrected = true
		player.Board.Place(cell, revived)
		removeFromGraveyard(player, dead.CardID)
		player.Counters.Resurrections++

		effects = append(effects, match.EffectDescriptor{
			Faction:   player.Faction,
			Effect:    def.Effect,
			PlayerID:  player.PlayerID,
			Positions: []match.Position{cell},
			Params:    map[string]int{"health": health},
		})
	}
	return effects, nil
}

func firstFreeCell(player *match.PlayerState) (match.Position, bool) {
	for _, p := range catalog.ValidPositions(player.Faction) {
		if !player.Board.Occupied(p) {
			return p, true
		}
	}
	return match.Position{}, false
}

// removeFromGraveyard drops the most recent copy of cardID.
func removeFromGraveyard(player *match.PlayerState, cardID string) {
	for i := len(player.Graveyard) - 1; i >= 0; i-- {
		if player.Graveyard[i] == cardID {
			player.Graveyard = append(player.Graveyard[:i], player.Graveyard[i+1:]...)
			return
		}
	}
}
