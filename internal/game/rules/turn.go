package rules

import (
	"github.com/google/uuid"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

// turnSequence is the fixed phase order of every turn.
var turnSequence = []match.Phase{
	match.PhaseResources,
	match.PhaseDraw,
	match.PhaseActions,
}

// NextPhase returns the phase after p and whether the turn wraps around.
func NextPhase(p match.Phase) (match.Phase, bool) {
	for i, phase := range turnSequence {
		if phase == p {
			if i+1 < len(turnSequence) {
				return turnSequence[i+1], false
			}
			return turnSequence[0], true
		}
	}
	return turnSequence[0], true
}

// TurnConfig holds the per-turn limits.
type TurnConfig struct {
	MaxResources int
	HandLimit    int
}

// DefaultTurnConfig returns the standard limits.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{MaxResources: match.MaxResources, HandLimit: match.HandLimit}
}

// TurnManager drives the resources -> draw -> actions loop on a session.
type TurnManager struct {
	cfg TurnConfig
}

// NewTurnManager creates a turn manager. Zero limits fall back to defaults.
func NewTurnManager(cfg TurnConfig) *TurnManager {
	def := DefaultTurnConfig()
	if cfg.MaxResources <= 0 || cfg.MaxResources > match.MaxResources {
		cfg.MaxResources = def.MaxResources
	}
	if cfg.HandLimit <= 0 {
		cfg.HandLimit = def.HandLimit
	}
	return &TurnManager{cfg: cfg}
}

// Config returns the effective limits.
func (tm *TurnManager) Config() TurnConfig {
	return tm.cfg
}

// StartTurn hands the turn to playerID and runs the resources and draw
// phases, leaving the session in the actions phase.
func (tm *TurnManager) StartTurn(s *match.Session, playerID string) []match.Event {
	p := s.Player(playerID)
	if p == nil {
		return nil
	}
	s.CurrentPlayer = playerID

	started := match.NewEvent(match.EventTurnStarted, playerID)
	started.Turn = s.Turn
	events := []match.Event{started}

	phase := match.PhaseResources
	for {
		s.Phase = phase
		switch phase {
		case match.PhaseResources:
			tm.refresh(p)
			events = append(events, tm.expireEffects(p)...)
		case match.PhaseDraw:
			events = append(events, tm.Draw(p, 1)...)
		}
		if phase == match.PhaseActions {
			return events
		}
		phase, _ = NextPhase(phase)
	}
}

// EndTurn closes playerID's turn and starts the opponent's.
func (tm *TurnManager) EndTurn(s *match.Session, playerID string) []match.Event {
	p := s.Player(playerID)
	if p == nil {
		return nil
	}
	p.Counters.TurnsPlayed++

	ended := match.NewEvent(match.EventTurnEnded, playerID)
	ended.Turn = s.Turn
	events := []match.Event{ended}

	s.Turn++
	s.TimeRemaining = s.TurnDuration
	return append(events, tm.StartTurn(s, s.OpponentID(playerID))...)
}

// Draw moves up to n cards from the front of the deck into hand. A card
// drawn with a full hand is burned to the graveyard; an empty deck draws
// nothing.
func (tm *TurnManager) Draw(p *match.PlayerState, n int) []match.Event {
	var events []match.Event
	for i := 0; i < n && len(p.Deck) > 0; i++ {
		cardID := p.Deck[0]
		p.Deck = p.Deck[1:]

		if len(p.Hand) >= tm.cfg.HandLimit {
			p.Graveyard = append(p.Graveyard, cardID)
			evt := match.NewEvent(match.EventCardBurned, p.PlayerID)
			evt.CardID = cardID
			events = append(events, evt)
			continue
		}
		card := match.HandCard{InstanceID: uuid.NewString(), CardID: cardID}
		p.Hand = append(p.Hand, card)
		evt := match.NewEvent(match.EventCardDrawn, p.PlayerID)
		evt.CardID = cardID
		evt.InstanceID = card.InstanceID
		events = append(events, evt)
	}
	return events
}

func (tm *TurnManager) refresh(p *match.PlayerState) {
	p.Resources++
	if p.Resources > tm.cfg.MaxResources {
		p.Resources = tm.cfg.MaxResources
	}
	p.ResourcesSpent = 0

	for _, u := range p.Board.Units() {
		u.SummonedThisTurn = false
		u.HasAttacked = false
		u.CanAttack = true
	}
}

// expireEffects ticks timed effects on p's units and drops the elapsed ones.
func (tm *TurnManager) expireEffects(p *match.PlayerState) []match.Event {
	var events []match.Event
	for _, u := range p.Board.Units() {
		if len(u.Effects) == 0 {
			continue
		}
		kept := u.Effects[:0]
		for _, effect := range u.Effects {
			effect.TurnsRemaining--
			if effect.TurnsRemaining > 0 {
				kept = append(kept, effect)
				continue
			}
			pos := u.Position
			events = append(events, match.NewEffectEvent(match.EffectDescriptor{
				Faction:   u.Faction,
				Effect:    effect.Name + "_expired",
				PlayerID:  p.PlayerID,
				Positions: []match.Position{pos},
			}))
		}
		if len(kept) == 0 {
			kept = nil
		}
		u.Effects = kept
	}
	return events
}
