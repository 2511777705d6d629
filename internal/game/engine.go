package game

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/combat"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/gridwars/gridwars-server-go/internal/game/passive"
	"github.com/gridwars/gridwars-server-go/internal/game/quest"
	"github.com/gridwars/gridwars-server-go/internal/game/rules"
	"github.com/gridwars/gridwars-server-go/internal/game/timer"
	"github.com/gridwars/gridwars-server-go/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventSink receives the result events of every applied action.
type EventSink interface {
	Publish(sessionID string, events []match.Event)
}

// Config holds the tunable game rules.
type Config struct {
	TurnDuration    time.Duration
	MaxResources    int
	HandLimit       int
	StartingHand    int
	DeckSize        int
	ConflictRetries int
	Passive         passive.Config
}

// DefaultConfig returns the standard ruleset.
func DefaultConfig() Config {
	return Config{
		TurnDuration:    90 * time.Second,
		MaxResources:    match.MaxResources,
		HandLimit:       match.HandLimit,
		StartingHand:    4,
		DeckSize:        20,
		ConflictRetries: 1,
		Passive:         passive.DefaultConfig(),
	}
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Store  *repository.SessionStore
	Cards  *catalog.Cards
	Timers *timer.Coordinator
	Clock  timer.Clock
	Sink   EventSink
	Logger *zap.Logger
	Seed   int64
	Config Config
}

// CreateParams describes a new match.
type CreateParams struct {
	SessionID    string
	PlayerA      string
	FactionA     catalog.Faction
	PlayerB      string
	FactionB     catalog.Faction
	TurnDuration time.Duration
}

// Command is one player instruction routed through the pipeline.
type Command struct {
	SessionID string
	PlayerID  string
	Action    match.Action
}

// Outcome is the result of an applied action.
type Outcome struct {
	Session  *match.Session
	Events   []match.Event
	Action   match.GameAction
	Attack   *combat.AttackResult
	Spell    *combat.SpellResult
	Warnings []rules.Issue
}

const timerLockShards = 64

// errUnchanged aborts a store mutation that would not change anything.
var errUnchanged = errors.New("session unchanged")

// Engine runs the command pipeline for every session it is handed. It holds
// no per-session state; all of that lives behind the SessionStore.
type Engine struct {
	store     *repository.SessionStore
	cards     *catalog.Cards
	validator *rules.Validator
	resolver  *combat.Resolver
	turns     *rules.TurnManager
	passives  *passive.Engine
	quests    *quest.Tracker
	timers    *timer.Coordinator
	clock     timer.Clock
	sink      EventSink
	rng       *lockedRand
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	stats     counters

	// timerLocks serialize countdown updates per session so the coordinator
	// always ends up matching the latest committed session.
	timerLocks [timerLockShards]sync.Mutex
}

// NewEngine wires an engine and registers it as the timer's timeout handler.
func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Cards == nil {
		deps.Cards = catalog.DefaultCards()
	}
	if deps.Clock == nil {
		deps.Clock = timer.RealClock{}
	}
	if deps.Timers == nil {
		deps.Timers = timer.NewCoordinator(deps.Clock, deps.Logger)
	}
	if deps.Seed == 0 {
		deps.Seed = time.Now().UnixNano()
	}
	def := DefaultConfig()
	cfg := deps.Config
	if cfg == (Config{}) {
		cfg = def
	}
	if cfg.TurnDuration <= 0 {
		cfg.TurnDuration = def.TurnDuration
	}
	if cfg.StartingHand <= 0 {
		cfg.StartingHand = def.StartingHand
	}
	if cfg.DeckSize <= 0 {
		cfg.DeckSize = def.DeckSize
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.Passive == (passive.Config{}) {
		cfg.Passive = def.Passive
	}

	resolver := combat.NewResolver()
	rng := newLockedRand(deps.Seed)
	e := &Engine{
		store:     deps.Store,
		cards:     deps.Cards,
		validator: rules.NewValidator(deps.Cards, resolver),
		resolver:  resolver,
		turns: rules.NewTurnManager(rules.TurnConfig{
			MaxResources: cfg.MaxResources,
			HandLimit:    cfg.HandLimit,
		}),
		passives: passive.NewEngine(cfg.Passive, rng, deps.Logger),
		quests:   quest.NewTracker(deps.Clock.Now, deps.Logger),
		timers:   deps.Timers,
		clock:    deps.Clock,
		sink:     deps.Sink,
		rng:      rng,
		cfg:      cfg,
		logger:   deps.Logger,
		tracer:   otel.Tracer("gridwars/game"),
	}
	e.timers.SetHandler(e.onTimeout)
	return e
}

// SetSink replaces the event sink. It must be called before sessions run.
func (e *Engine) SetSink(sink EventSink) {
	e.sink = sink
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// CreateSession builds decks, draws opening hands, assigns quests and starts
// the first turn for PlayerA.
func (e *Engine) CreateSession(ctx context.Context, params CreateParams) (*match.Session, error) {
	if params.PlayerA == "" || params.PlayerB == "" || params.PlayerA == params.PlayerB {
		return nil, fmt.Errorf("%w: need two distinct players", ErrInvalidParams)
	}
	for _, f := range []catalog.Faction{params.FactionA, params.FactionB} {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: unknown faction %q", ErrInvalidParams, f)
		}
	}
	if params.SessionID == "" {
		params.SessionID = uuid.NewString()
	}
	if params.TurnDuration <= 0 {
		params.TurnDuration = e.cfg.TurnDuration
	}

	players := make([]*match.PlayerState, 0, 2)
	for _, seat := range []struct {
		id      string
		faction catalog.Faction
	}{{params.PlayerA, params.FactionA}, {params.PlayerB, params.FactionB}} {
		p := &match.PlayerState{
			PlayerID: seat.id,
			Faction:  seat.faction,
			Deck:     e.cards.StarterDeck(seat.faction, e.cfg.DeckSize, e.rng),
		}
		if err := e.quests.Assign(p, e.rng); err != nil {
			return nil, internalError("assign quest to %s: %v", seat.id, err)
		}
		players = append(players, p)
	}

	s := match.NewSession(params.SessionID, players[0], players[1], params.TurnDuration, e.clock.Now())
	if _, err := e.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session %s: %w", s.ID, err)
	}

	var events []match.Event
	started, err := e.store.Apply(ctx, s.ID, func(next *match.Session) error {
		for _, id := range next.Players {
			events = append(events, e.turns.Draw(next.Player(id), e.cfg.StartingHand)...)
		}
		next.Status = match.StatusActive
		next.Turn = 1
		events = append(events, e.turns.StartTurn(next, params.PlayerA)...)
		match.Stamp(events, next, e.clock.Now())
		return nil
	}, 1)
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", s.ID, err)
	}

	e.stats.sessionsCreated.Add(1)
	e.syncTimer(ctx, started.ID, nil)
	started.TimeRemaining = e.remaining(started)
	e.publish(started.ID, events)
	e.logger.Info("session created",
		zap.String("session_id", started.ID),
		zap.String("player_a", params.PlayerA),
		zap.String("faction_a", string(params.FactionA)),
		zap.String("player_b", params.PlayerB),
		zap.String("faction_b", string(params.FactionB)))
	return started, nil
}

// Session returns a read-only snapshot of a session. TimeRemaining is read
// from the live countdown.
func (e *Engine) Session(ctx context.Context, id string) (*match.Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.mapLoadError(id, err)
	}
	s.TimeRemaining = e.remaining(s)
	return s, nil
}

// Submit validates and applies one player command. A lost version race is
// retried against fresh state, re-validating first.
func (e *Engine) Submit(ctx context.Context, cmd Command) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Submit", trace.WithAttributes(
		attribute.String("session_id", cmd.SessionID),
		attribute.String("player_id", cmd.PlayerID),
	))
	defer span.End()

	if cmd.Action != nil {
		span.SetAttributes(attribute.String("action_type", string(cmd.Action.Type())))
	}

	for attempt := 0; ; attempt++ {
		out, err := e.attempt(ctx, cmd)
		if err == nil {
			e.stats.actionsAccepted.Add(1)
			return out, nil
		}
		if errors.Is(err, repository.ErrConflict) {
			e.stats.conflicts.Add(1)
			if attempt < e.cfg.ConflictRetries {
				e.logger.Debug("retrying action after version conflict",
					zap.String("session_id", cmd.SessionID),
					zap.String("player_id", cmd.PlayerID),
					zap.Int("attempt", attempt+1))
				continue
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
}

// attempt runs one load, validate, apply cycle.
func (e *Engine) attempt(ctx context.Context, cmd Command) (*Outcome, error) {
	s, err := e.store.Get(ctx, cmd.SessionID)
	if err != nil {
		return nil, e.mapLoadError(cmd.SessionID, err)
	}
	res := e.validator.Validate(s, cmd.PlayerID, cmd.Action)
	if !res.Accepted {
		e.stats.actionsRejected.Add(1)
		if res.Has(rules.CodeInternalError) {
			e.stats.internalErrors.Add(1)
			e.logger.Error("internal fault during validation",
				zap.String("session_id", cmd.SessionID),
				zap.String("player_id", cmd.PlayerID),
				zap.Any("errors", res.Errors))
		} else {
			e.logger.Debug("action rejected",
				zap.String("session_id", cmd.SessionID),
				zap.String("player_id", cmd.PlayerID),
				zap.Any("codes", res.Codes()))
		}
		return nil, &ValidationError{Result: res}
	}
	return e.apply(ctx, s, cmd, res)
}

// apply commits a validated command against the version it was validated at.
func (e *Engine) apply(ctx context.Context, s *match.Session, cmd Command, res rules.Result) (*Outcome, error) {
	out := &Outcome{Warnings: res.Warnings}
	next, err := e.store.Apply(ctx, cmd.SessionID, func(next *match.Session) error {
		return e.resolve(next, cmd, res, out)
	}, s.Version)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, err
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, cmd.SessionID)
		}
		e.stats.internalErrors.Add(1)
		e.logger.Error("failed to apply action",
			zap.String("session_id", cmd.SessionID),
			zap.String("player_id", cmd.PlayerID),
			zap.String("action_type", string(cmd.Action.Type())),
			zap.Error(err))
		if errors.Is(err, ErrInternal) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	out.Session = next

	e.logger.Debug("action applied",
		zap.String("session_id", next.ID),
		zap.String("player_id", cmd.PlayerID),
		zap.String("action_type", string(cmd.Action.Type())),
		zap.Int64("version", next.Version))
	if next.GameOver {
		e.logger.Info("game ended",
			zap.String("session_id", next.ID),
			zap.String("winner", next.Winner),
			zap.String("win_condition", string(next.WinCondition)))
	}

	e.syncTimer(ctx, next.ID, &cmd)
	next.TimeRemaining = e.remaining(next)
	e.publish(next.ID, out.Events)
	return out, nil
}

// resolve is the mutation body: action, passives, quests, win check, turn
// hand-over.
func (e *Engine) resolve(next *match.Session, cmd Command, res rules.Result, out *Outcome) error {
	now := e.clock.Now()
	actor := next.Player(cmd.PlayerID)
	if actor == nil {
		return internalError("player %s missing from session %s", cmd.PlayerID, next.ID)
	}

	before := make(map[string]match.Counters, len(next.PlayerStates))
	for id, p := range next.PlayerStates {
		before[id] = p.Counters
	}

	record := match.NewGameAction(next, cmd.PlayerID, cmd.Action, now)
	record.Valid = true
	record.Cost = res.Cost

	pctx := &passive.Context{Session: next, ActorID: cmd.PlayerID}
	var events []match.Event

	switch a := cmd.Action.(type) {
	case match.PlaceUnit:
		def, ok := e.cards.Card(a.CardID)
		if !ok {
			return internalError("card %s missing from catalog", a.CardID)
		}
		cost := actor.PlacementCost(def.Cost)
		if err := takeFromHand(actor, a.HandIndex, a.CardID); err != nil {
			return err
		}
		spend(actor, cost)
		actor.PendingCostReduction = 0

		unit := match.NewBoardUnit(uuid.NewString(), cmd.PlayerID, def, a.Position)
		actor.Board.Place(a.Position, unit)
		actor.Counters.UnitsPlaced++
		record.Cost = cost
		pctx.Placed = unit
		events = append(events, match.NewUnitEvent(match.EventCardPlaced, unit, cost))

	case match.Attack:
		result, err := e.resolver.ExecuteAttack(next, cmd.PlayerID, a.From, a.To)
		if err != nil {
			return internalError("resolve attack: %v", err)
		}
		out.Attack = result
		pctx.Deaths = result.Deaths
		events = append(events, result.Events()...)

	case match.CastSpell:
		def, ok := e.cards.Card(a.CardID)
		if !ok {
			return internalError("card %s missing from catalog", a.CardID)
		}
		if err := takeFromHand(actor, a.HandIndex, a.CardID); err != nil {
			return err
		}
		spend(actor, def.Cost)
		result, err := e.resolver.ResolveSpell(next, cmd.PlayerID, def, a.Target)
		if err != nil {
			return internalError("resolve spell: %v", err)
		}
		actor.Graveyard = append(actor.Graveyard, def.ID)
		record.Cost = def.Cost
		out.Spell = result
		pctx.Deaths = result.Deaths
		events = append(events, result.Events()...)

	case match.EndTurn:
		// Hand-over runs after the win check below.

	case match.Surrender:
		next.End(next.OpponentID(cmd.PlayerID), match.WinSurrender)

	default:
		return internalError("unhandled action %T", cmd.Action)
	}

	if !next.GameOver {
		effects := e.passives.Evaluate(pctx)
		for _, d := range effects {
			events = append(events, match.NewEffectEvent(d))
		}
		deltas := e.quests.Evaluate(quest.Input{
			Session: next,
			Action:  cmd.Action,
			ActorID: cmd.PlayerID,
			Before:  before,
		})
		for _, d := range deltas {
			events = append(events, match.NewQuestEvent(d))
		}
		if out.Attack != nil {
			out.Attack.Effects = effects
			out.Attack.Quests = deltas
		}
		checkQuestWin(next, cmd.PlayerID)
	}

	if next.GameOver {
		ended := match.NewEvent(match.EventGameEnded, next.Winner)
		ended.Metadata = map[string]string{"win_condition": string(next.WinCondition)}
		events = append(events, ended)
	} else if cmd.Action.Type() == match.ActionEndTurn {
		events = append(events, e.turns.EndTurn(next, cmd.PlayerID)...)
	}

	next.History = append(next.History, record)
	out.Action = record
	out.Events = match.Stamp(events, next, now)
	return nil
}

// checkQuestWin ends the session for the first completed quest, actor first.
func checkQuestWin(s *match.Session, actorID string) {
	for _, id := range []string{actorID, s.OpponentID(actorID)} {
		if p := s.Player(id); p != nil && p.Quest.Completed {
			s.End(id, match.WinQuest)
			return
		}
	}
}

func takeFromHand(p *match.PlayerState, index int, cardID string) error {
	if index < 0 || index >= len(p.Hand) || p.Hand[index].CardID != cardID {
		return internalError("hand slot %d does not hold %s", index, cardID)
	}
	p.Hand = append(p.Hand[:index], p.Hand[index+1:]...)
	return nil
}

func spend(p *match.PlayerState, cost int) {
	p.ResourcesSpent += cost
	p.Counters.ResourcesSpent += cost
}

func (e *Engine) timerLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &e.timerLocks[h.Sum32()%timerLockShards]
}

// syncTimer brings the countdown in line with the latest committed state of
// the session. cmd, when set, is the action just committed; its player's
// countdown restarts if they still hold the turn.
func (e *Engine) syncTimer(ctx context.Context, id string, cmd *Command) {
	mu := e.timerLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := e.store.Get(ctx, id)
	if err != nil {
		e.logger.Warn("turn timer not synced", zap.String("session_id", id), zap.Error(err))
		return
	}
	e.reconcileTimer(s, cmd)
}

// reconcileTimer must be called with the session's timer lock held.
func (e *Engine) reconcileTimer(s *match.Session, cmd *Command) {
	if s.GameOver || !s.Active() {
		e.timers.Cancel(s.ID)
		return
	}
	snap, ok := e.timers.Snapshot(s.ID)
	switch {
	case !ok || snap.PlayerID != s.CurrentPlayer || snap.State == timer.StateFired:
		e.timers.Arm(s.ID, s.CurrentPlayer, s.TurnDuration)
	case cmd != nil && cmd.PlayerID == s.CurrentPlayer:
		e.timers.Reset(s.ID, cmd.PlayerID)
	}
	if s.Paused {
		e.timers.Pause(s.ID)
	} else {
		e.timers.Resume(s.ID)
	}
}

// remaining is the live turn time left for the current player, falling back
// to the stored value when no countdown tracks them.
func (e *Engine) remaining(s *match.Session) time.Duration {
	if s.GameOver || !s.Active() {
		return s.TimeRemaining
	}
	if snap, ok := e.timers.Snapshot(s.ID); ok && snap.PlayerID == s.CurrentPlayer {
		return snap.Remaining
	}
	return s.TimeRemaining
}

func (e *Engine) onTimeout(sessionID, playerID string) {
	if err := e.HandleTimeout(context.Background(), sessionID, playerID); err != nil {
		e.logger.Warn("turn timeout not applied",
			zap.String("session_id", sessionID),
			zap.String("player_id", playerID),
			zap.Error(err))
	}
}

// HandleTimeout ends playerID's turn on their behalf. A timeout that lost
// the race to another action, or that fires after the game ended, is
// dropped; it is never retried.
func (e *Engine) HandleTimeout(ctx context.Context, sessionID, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.HandleTimeout", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("player_id", playerID),
	))
	defer span.End()
	e.stats.timeoutsFired.Add(1)

	s, err := e.store.Get(ctx, sessionID)
	if err != nil {
		e.stats.timeoutsDropped.Add(1)
		return e.mapLoadError(sessionID, err)
	}
	if s.GameOver || !s.Active() || s.CurrentPlayer != playerID {
		e.stats.timeoutsDropped.Add(1)
		e.logger.Debug("stale turn timeout dropped",
			zap.String("session_id", sessionID),
			zap.String("player_id", playerID),
			zap.String("current_player", s.CurrentPlayer))
		return nil
	}

	cmd := Command{SessionID: sessionID, PlayerID: playerID, Action: match.EndTurn{Reason: match.EndTurnTimeout}}
	res := e.validator.Validate(s, playerID, cmd.Action)
	if !res.Accepted {
		e.stats.timeoutsDropped.Add(1)
		return &ValidationError{Result: res}
	}
	if _, err := e.apply(ctx, s, cmd, res); err != nil {
		e.stats.timeoutsDropped.Add(1)
		if errors.Is(err, repository.ErrConflict) {
			e.stats.conflicts.Add(1)
			e.logger.Info("turn timeout lost race to player action",
				zap.String("session_id", sessionID),
				zap.String("player_id", playerID))
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e.logger.Info("turn timed out",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID))
	return nil
}

// Abandon closes a session without a winner.
func (e *Engine) Abandon(ctx context.Context, id string) (*match.Session, error) {
	var events []match.Event
	s, err := e.store.Apply(ctx, id, func(next *match.Session) error {
		if next.Status.Terminal() {
			return ErrSessionClosed
		}
		next.GameOver = true
		next.Status = match.StatusAbandoned
		next.WinCondition = match.WinAbandoned
		next.Winner = ""
		ended := match.NewEvent(match.EventGameEnded, "")
		ended.Metadata = map[string]string{"win_condition": string(match.WinAbandoned)}
		events = match.Stamp([]match.Event{ended}, next, e.clock.Now())
		return nil
	}, repository.AnyVersion)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil, fmt.Errorf("abandon %s: %w", id, err)
		}
		return nil, e.mapLoadError(id, err)
	}
	e.syncTimer(ctx, id, nil)
	e.publish(id, events)
	e.logger.Info("session abandoned", zap.String("session_id", id))
	return s, nil
}

// Pause freezes the turn timer, typically when a player disconnects.
func (e *Engine) Pause(ctx context.Context, id string) (time.Duration, error) {
	return e.setPaused(ctx, id, true)
}

// Resume re-arms the turn timer with the time left when it was paused.
func (e *Engine) Resume(ctx context.Context, id string) (time.Duration, error) {
	return e.setPaused(ctx, id, false)
}

// setPaused decides and records the toggle inside one store mutation and
// reconciles the countdown before the timer lock is released, so
// interleaved pause and resume calls settle on the last one applied.
func (e *Engine) setPaused(ctx context.Context, id string, paused bool) (time.Duration, error) {
	mu := e.timerLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := e.store.Apply(ctx, id, func(next *match.Session) error {
		if !next.Active() {
			return ErrSessionClosed
		}
		if next.Paused == paused {
			return errUnchanged
		}
		next.Paused = paused
		next.TimeRemaining = e.remaining(next)
		return nil
	}, repository.AnyVersion)
	switch {
	case errors.Is(err, errUnchanged):
		if s, err = e.store.Get(ctx, id); err != nil {
			return 0, e.mapLoadError(id, err)
		}
	case errors.Is(err, ErrSessionClosed):
		return 0, fmt.Errorf("pause %s: %w", id, ErrSessionClosed)
	case err != nil:
		return 0, e.mapLoadError(id, err)
	default:
		e.logger.Info("session timer toggled",
			zap.String("session_id", id),
			zap.Bool("paused", paused),
			zap.Duration("remaining", s.TimeRemaining))
	}

	e.reconcileTimer(s, nil)
	return e.remaining(s), nil
}

func (e *Engine) publish(sessionID string, events []match.Event) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	e.sink.Publish(sessionID, events)
}

func (e *Engine) mapLoadError(id string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case errors.Is(err, repository.ErrCorrupt):
		e.stats.internalErrors.Add(1)
		e.logger.Error("stored session is corrupt", zap.String("session_id", id), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return err
}
