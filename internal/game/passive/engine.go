package passive

import (
	"fmt"
	"sync"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"go.uber.org/zap"
)

// Roller supplies uniform random numbers in [0,1). *rand.Rand satisfies it.
type Roller interface {
	Float64() float64
}

// Context describes the resolved action passives react to.
type Context struct {
	Session *match.Session
	ActorID string

	// Placed is the unit the action put on the board, if any.
	Placed *match.BoardUnit
	// Deaths lists destroyed units in destruction order.
	Deaths []*match.BoardUnit
}

// deathsOf returns the destroyed units owned by playerID, in order.
func (c *Context) deathsOf(playerID string) []*match.BoardUnit {
	var out []*match.BoardUnit
	for _, u := range c.Deaths {
		if u.Owner == playerID {
			out = append(out, u)
		}
	}
	return out
}

// boardChanged reports whether the action touched playerID's board.
func (c *Context) boardChanged(playerID string) bool {
	if c.Placed != nil && c.Placed.Owner == playerID {
		return true
	}
	return len(c.deathsOf(playerID)) > 0
}

// Handler evaluates one passive for one player and returns the effects it
// applied.
type Handler func(ctx *Context, player *match.PlayerState, def catalog.PassiveDefinition) ([]match.EffectDescriptor, error)

// Config tunes the passive parameters that operators may override.
type Config struct {
	ResurrectionChance float64
	LineBonusAttack    int
	LineBonusHealth    int
}

// DefaultConfig returns the catalog parameters.
func DefaultConfig() Config {
	cfg := Config{}
	if human, ok := catalog.PassiveFor(catalog.FactionHuman); ok {
		cfg.LineBonusAttack = human.AttackBonus
		cfg.LineBonusHealth = human.HealthBonus
	}
	if robot, ok := catalog.PassiveFor(catalog.FactionRobot); ok {
		cfg.ResurrectionChance = robot.Chance
	}
	return cfg
}

// Engine stores passive handlers keyed by trigger and evaluates them after
// each action.
type Engine struct {
	mu       sync.RWMutex
	handlers map[catalog.PassiveTrigger]Handler

	cfg    Config
	roller Roller
	logger *zap.Logger
}

// NewEngine creates an engine with the three faction passives registered.
func NewEngine(cfg Config, roller Roller, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		handlers: make(map[catalog.PassiveTrigger]Handler),
		cfg:      cfg,
		roller:   roller,
		logger:   logger,
	}
	e.Register(catalog.TriggerLineComplete, e.lineComplete)
	e.Register(catalog.TriggerOnDeath, e.onDeath)
	e.Register(catalog.TriggerOnDestroy, e.onDestroy)
	return e
}

// Register installs or replaces the handler for a trigger.
func (e *Engine) Register(trigger catalog.PassiveTrigger, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[trigger] = handler
}

// applies reports whether a trigger is relevant to playerID for this action.
func applies(trigger catalog.PassiveTrigger, ctx *Context, playerID string) bool {
	switch trigger {
	case catalog.TriggerLineComplete:
		return ctx.boardChanged(playerID)
	case catalog.TriggerOnDeath, catalog.TriggerOnDestroy:
		return len(ctx.deathsOf(playerID)) > 0
	}
	return false
}

// Evaluate runs each player's faction passive once, actor first. Handler
// failures are logged and skipped; they never fail the action.
func (e *Engine) Evaluate(ctx *Context) []match.EffectDescriptor {
	if ctx == nil || ctx.Session == nil {
		return nil
	}
	order := []string{ctx.ActorID, ctx.Session.OpponentID(ctx.ActorID)}

	var effects []match.EffectDescriptor
	for _, playerID := range order {
		player := ctx.Session.Player(playerID)
		if player == nil {
			continue
		}
		def, ok := catalog.PassiveFor(player.Faction)
		if !ok || !applies(def.Trigger, ctx, playerID) {
			continue
		}

		e.mu.RLock()
		handler := e.handlers[def.Trigger]
		e.mu.RUnlock()
		if handler == nil {
			continue
		}

		applied, err := e.run(handler, ctx, player, def)
		if err != nil {
			e.logger.Warn("passive evaluation failed",
				zap.String("session_id", ctx.Session.ID),
				zap.String("player_id", playerID),
				zap.String("trigger", string(def.Trigger)),
				zap.Error(err))
			continue
		}
		effects = append(effects, applied...)
	}
	return effects
}

func (e *Engine) run(handler Handler, ctx *Context, player *match.PlayerState, def catalog.PassiveDefinition) (effects []match.EffectDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			effects = nil
			err = fmt.Errorf("passive %s panicked: %v", def.Name, r)
		}
	}()
	return handler(ctx, player, def)
}
