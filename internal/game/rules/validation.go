package rules

import (
	"fmt"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/combat"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

// Code is a stable validation error code.
type Code string

const (
	CodeMalformedAction          Code = "MALFORMED_ACTION"
	CodeSessionNotActive         Code = "SESSION_NOT_ACTIVE"
	CodeGameOver                 Code = "GAME_OVER"
	CodeUnknownPlayer            Code = "UNKNOWN_PLAYER"
	CodeNotYourTurn              Code = "NOT_YOUR_TURN"
	CodeInvalidPhase             Code = "INVALID_PHASE"
	CodeCardNotInHand            Code = "CARD_NOT_IN_HAND"
	CodeNotAUnitCard             Code = "NOT_A_UNIT_CARD"
	CodeNotASpellCard            Code = "NOT_A_SPELL_CARD"
	CodeInsufficientResources    Code = "INSUFFICIENT_RESOURCES"
	CodeInvalidFormationPosition Code = "INVALID_FORMATION_POSITION"
	CodePositionOccupied         Code = "POSITION_OCCUPIED"
	CodeNoUnitAtPosition         Code = "NO_UNIT_AT_POSITION"
	CodeInvalidTarget            Code = "INVALID_TARGET"
	CodeSummoningSickness        Code = "SUMMONING_SICKNESS"
	CodeAlreadyAttacked          Code = "ALREADY_ATTACKED"
	CodeOutOfRange               Code = "OUT_OF_RANGE"
	CodeNoLineOfSight            Code = "NO_LINE_OF_SIGHT"
	CodeInternalError            Code = "INTERNAL_ERROR"

	// Warnings never block an action.
	CodeLethalCounter    Code = "LETHAL_COUNTER"
	CodeUnspentResources Code = "UNSPENT_RESOURCES"
)

// Issue is a single validation finding.
type Issue struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Result is the structured outcome of validating one action.
type Result struct {
	Accepted bool    `json:"accepted"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`

	// Cost is the resource cost the action will charge when applied.
	Cost int `json:"cost"`
	// Range holds the combat check for attacks.
	Range *combat.RangeResult `json:"range,omitempty"`
}

// Has reports whether the result carries the given error code.
func (r Result) Has(code Code) bool {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the error codes in report order.
func (r Result) Codes() []Code {
	codes := make([]Code, 0, len(r.Errors))
	for _, issue := range r.Errors {
		codes = append(codes, issue.Code)
	}
	return codes
}

func (r *Result) fail(code Code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(code Code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validator checks proposed actions against session state. It never mutates
// the session and is safe to call concurrently on distinct snapshots.
type Validator struct {
	cards    catalog.CardLookup
	resolver *combat.Resolver
}

// NewValidator creates a validator backed by the card catalog and the
// combat resolver used for range checks.
func NewValidator(cards catalog.CardLookup, resolver *combat.Resolver) *Validator {
	if resolver == nil {
		resolver = combat.NewResolver()
	}
	return &Validator{cards: cards, resolver: resolver}
}

// Validate runs every applicable check and reports all violations.
func (v *Validator) Validate(s *match.Session, playerID string, action match.Action) Result {
	var res Result
	if s == nil {
		res.fail(CodeInternalError, "session missing")
		return res
	}
	if action == nil {
		res.fail(CodeMalformedAction, "action payload missing")
		return res
	}

	v.checkStructure(&res, action)
	v.checkTurn(&res, s, playerID, action)

	player := s.Player(playerID)
	if player != nil {
		switch a := action.(type) {
		case match.PlaceUnit:
			v.checkPlacement(&res, player, a)
		case match.Attack:
			v.checkAttack(&res, s, player, a)
		case match.CastSpell:
			v.checkSpell(&res, s, player, a)
		case match.EndTurn:
			if player.Available() > 0 {
				res.warn(CodeUnspentResources, "%d resources left unspent", player.Available())
			}
		}
	}

	res.Accepted = len(res.Errors) == 0
	return res
}

func (v *Validator) checkStructure(res *Result, action match.Action) {
	switch a := action.(type) {
	case match.PlaceUnit:
		if a.HandIndex < 0 || a.CardID == "" {
			res.fail(CodeMalformedAction, "place_unit requires a hand index and card id")
		}
	case match.CastSpell:
		if a.HandIndex < 0 || a.CardID == "" {
			res.fail(CodeMalformedAction, "cast_spell requires a hand index and card id")
		}
	case match.Attack, match.EndTurn, match.Surrender:
	default:
		res.fail(CodeMalformedAction, "unsupported action %T", action)
	}
}

func (v *Validator) checkTurn(res *Result, s *match.Session, playerID string, action match.Action) {
	if s.Status != match.StatusActive {
		res.fail(CodeSessionNotActive, "session is %s", s.Status)
	}
	if s.GameOver {
		res.fail(CodeGameOver, "game is over")
	}
	if !s.HasPlayer(playerID) {
		res.fail(CodeUnknownPlayer, "player %q is not in this session", playerID)
		return
	}
	if s.CurrentPlayer != playerID {
		res.fail(CodeNotYourTurn, "it is %s's turn", s.CurrentPlayer)
	}
	if !PhaseAllows(s.Phase, action.Type()) {
		res.fail(CodeInvalidPhase, "%s is not allowed during the %s phase", action.Type(), s.Phase)
	}
}

// PhaseAllows reports whether an action type may be issued in a phase. The
// actions phase allows everything, the others only end_turn.
func PhaseAllows(phase match.Phase, t match.ActionType) bool {
	if phase == match.PhaseActions {
		return true
	}
	return t == match.ActionEndTurn
}

// handCard resolves a hand reference, reporting ownership problems.
func (v *Validator) handCard(res *Result, player *match.PlayerState, index int, cardID string) (catalog.CardDefinition, bool) {
	if index < 0 || index >= len(player.Hand) || player.Hand[index].CardID != cardID {
		res.fail(CodeCardNotInHand, "card %s is not at hand index %d", cardID, index)
		return catalog.CardDefinition{}, false
	}
	def, ok := v.cards.Card(cardID)
	if !ok {
		res.fail(CodeInternalError, "card %s missing from catalog", cardID)
		return catalog.CardDefinition{}, false
	}
	return def, true
}

func (v *Validator) checkPlacement(res *Result, player *match.PlayerState, a match.PlaceUnit) {
	if def, ok := v.handCard(res, player, a.HandIndex, a.CardID); ok {
		if !def.IsUnit() {
			res.fail(CodeNotAUnitCard, "card %s is not a unit", def.ID)
		}
		res.Cost = player.PlacementCost(def.Cost)
		if res.Cost > player.Available() {
			res.fail(CodeInsufficientResources, "card costs %d, %d available", res.Cost, player.Available())
		}
	}

	if !catalog.IsValidPosition(player.Faction, a.Position) {
		res.fail(CodeInvalidFormationPosition, "cell %s is outside the %s formation", a.Position, player.Faction)
	} else if player.Board.Occupied(a.Position) {
		res.fail(CodePositionOccupied, "cell %s is occupied", a.Position)
	}
}

func (v *Validator) checkAttack(res *Result, s *match.Session, player *match.PlayerState, a match.Attack) {
	attacker := player.Board.At(a.From)
	if attacker == nil {
		res.fail(CodeNoUnitAtPosition, "no unit at %s", a.From)
	}

	opponent := s.Opponent(player.PlayerID)
	var target *match.BoardUnit
	if opponent != nil {
		target = opponent.Board.At(a.To)
	}
	if target == nil {
		res.fail(CodeInvalidTarget, "no enemy unit at %s", a.To)
	}

	if attacker == nil {
		return
	}
	switch {
	case attacker.HasAttacked:
		res.fail(CodeAlreadyAttacked, "unit at %s already attacked this turn", a.From)
	case attacker.SummonedThisTurn || !attacker.CanAttack:
		res.fail(CodeSummoningSickness, "unit at %s cannot attack this turn", a.From)
	}
	if target == nil {
		return
	}

	rng := v.resolver.ValidateRange(s, player.PlayerID, a.From, a.To, attacker.Range)
	res.Range = &rng
	if !rng.InRange {
		res.fail(CodeOutOfRange, "target is %d away, range is %d", rng.Distance, attacker.Range)
	}
	if !rng.LineOfSight {
		res.fail(CodeNoLineOfSight, "shot blocked at %s", rng.BlockedBy.Position)
	}
	if target.EffectiveAttack() >= attacker.Health {
		res.warn(CodeLethalCounter, "counter attack will destroy the attacker")
	}
}

func (v *Validator) checkSpell(res *Result, s *match.Session, player *match.PlayerState, a match.CastSpell) {
	def, ok := v.handCard(res, player, a.HandIndex, a.CardID)
	if !ok {
		return
	}
	if !def.IsSpell() {
		res.fail(CodeNotASpellCard, "card %s is not a spell", def.ID)
		return
	}
	res.Cost = def.Cost
	if res.Cost > player.Available() {
		res.fail(CodeInsufficientResources, "card costs %d, %d available", res.Cost, player.Available())
	}

	if a.Target == nil {
		res.fail(CodeInvalidTarget, "spell %s needs a target", def.ID)
		return
	}
	board := &player.Board
	if def.Spell.TargetsEnemy() {
		opponent := s.Opponent(player.PlayerID)
		if opponent == nil {
			res.fail(CodeInvalidTarget, "no opponent to target")
			return
		}
		board = &opponent.Board
	}
	if !board.Occupied(*a.Target) {
		res.fail(CodeInvalidTarget, "no valid unit at %s", *a.Target)
	}
}
