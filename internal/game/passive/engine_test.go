package passive

import (
	"testing"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedRoller struct {
	rolls []float64
	calls int
}

func (r *scriptedRoller) Float64() float64 {
	v := r.rolls[r.calls%len(r.rolls)]
	r.calls++
	return v
}

func pos(r, c int) match.Position { return match.Position{Row: r, Col: c} }

func newSession(a, b catalog.Faction) *match.Session {
	alice := &match.PlayerState{PlayerID: "alice", Faction: a}
	bob := &match.PlayerState{PlayerID: "bob", Faction: b}
	s := match.NewSession("s1", alice, bob, time.Minute, time.Unix(0, 0))
	s.Status = match.StatusActive
	s.Phase = match.PhaseActions
	s.CurrentPlayer = "alice"
	s.Turn = 1
	return s
}

func put(s *match.Session, owner string, p match.Position) *match.BoardUnit {
	u := &match.BoardUnit{
		InstanceID: owner + p.String(),
		CardID:     "unit_" + p.String(),
		Owner:      owner,
		Faction:    s.Player(owner).Faction,
		Attack:     2,
		Health:     2,
		MaxHealth:  2,
		Range:      1,
	}
	s.Player(owner).Board.Place(p, u)
	return u
}

func TestLineCompleteRewardsEachUnitOnce(t *testing.T) {
	s := newSession(catalog.FactionHuman, catalog.FactionAlien)
	e := NewEngine(DefaultConfig(), nil, zaptest.NewLogger(t))

	var last *match.BoardUnit
	for c := 0; c < catalog.Cols; c++ {
		last = put(s, "alice", pos(1, c))
	}

	effects := e.Evaluate(&Context{Session: s, ActorID: "alice", Placed: last})
	require.Len(t, effects, 1)
	assert.Equal(t, catalog.EffectLineBonus, effects[0].Effect)
	assert.Len(t, effects[0].Positions, 5)

	alice := s.Player("alice")
	for c := 0; c < catalog.Cols; c++ {
		u := alice.Board.At(pos(1, c))
		assert.Equal(t, 3, u.Attack, "col %d", c)
		assert.Equal(t, 3, u.Health, "col %d", c)
		assert.Equal(t, 3, u.MaxHealth, "col %d", c)
	}
	assert.Equal(t, 1, alice.Counters.LinesCompleted)

	// Running again while the line stays complete changes nothing.
	effects = e.Evaluate(&Context{Session: s, ActorID: "alice", Placed: last})
	assert.Empty(t, effects)
	assert.Equal(t, 3, alice.Board.At(pos(1, 0)).Attack)
}

func TestLineCompleteOncePerPassAcrossCrossingLines(t *testing.T) {
	s := newSession(catalog.FactionHuman, catalog.FactionAlien)
	e := NewEngine(DefaultConfig(), nil, nil)

	for c := 0; c < catalog.Cols; c++ {
		put(s, "alice", pos(1, c))
	}
	put(s, "alice", pos(0, 2))
	last := put(s, "alice", pos(2, 2))

	effects := e.Evaluate(&Context{Session: s, ActorID: "alice", Placed: last})
	require.Len(t, effects, 1)
	assert.Equal(t, 2, effects[0].Params["lines"])

	center := s.Player("alice").Board.At(pos(1, 2))
	assert.Equal(t, 3, center.Attack)
	assert.ElementsMatch(t, []string{"row:1", "col:2"}, center.LineBonuses)
	assert.Equal(t, 3, s.Player("alice").Board.At(pos(0, 2)).Attack)
}

func TestLineCompleteIgnoresUntouchedBoards(t *testing.T) {
	s := newSession(catalog.FactionAlien, catalog.FactionHuman)
	e := NewEngine(DefaultConfig(), nil, nil)
	for c := 0; c < catalog.Cols; c++ {
		put(s, "bob", pos(1, c))
	}

	effects := e.Evaluate(&Context{Session: s, ActorID: "alice"})
	assert.Empty(t, effects)
	assert.Equal(t, 2, s.Player("bob").Board.At(pos(1, 1)).Attack)
}

func TestOnDeathBanksCumulativeReduction(t *testing.T) {
	s := newSession(catalog.FactionHuman, catalog.FactionAlien)
	e := NewEngine(DefaultConfig(), nil, nil)

	dead := []*match.BoardUnit{
		{InstanceID: "d1", Owner: "bob", Position: pos(0, 0)},
		{InstanceID: "d2", Owner: "bob", Position: pos(1, 1)},
		{InstanceID: "d3", Owner: "alice", Position: pos(1, 1)},
	}
	effects := e.Evaluate(&Context{Session: s, ActorID: "alice", Deaths: dead})

	require.Len(t, effects, 1)
	assert.Equal(t, catalog.EffectCostReduction, effects[0].Effect)
	assert.Equal(t, 2, s.Player("bob").PendingCostReduction)
	assert.Equal(t, 2, effects[0].Params["pending"])
}

func TestOnDestroyResurrectsInDestructionOrder(t *testing.T) {
	s := newSession(catalog.FactionHuman, catalog.FactionRobot)
	roller := &scriptedRoller{rolls: []float64{0.1, 0.9}}
	e := NewEngine(DefaultConfig(), roller, zaptest.NewLogger(t))

	bob := s.Player("bob")
	first := put(s, "bob", pos(0, 3))
	second := put(s, "bob", pos(0, 4))
	bob.RemoveUnit(first.Position)
	bob.RemoveUnit(second.Position)
	put(s, "bob", pos(0, 0))

	effects := e.Evaluate(&Context{Session: s, ActorID: "alice", Deaths: []*match.BoardUnit{first, second}})

	require.Len(t, effects, 1)
	assert.Equal(t, 2, roller.calls)
	revived := bob.Board.At(pos(0, 1))
	require.NotNil(t, revived)
	assert.Equal(t, first.CardID, revived.CardID)
	assert.NotEqual(t, first.InstanceID, revived.InstanceID)
	assert.Equal(t, 1, revived.Health)
	assert.True(t, revived.SummonedThisTurn)
	assert.False(t, revived.CanAttack)
	assert.True(t, revived.Resurrected)
	assert.Equal(t, []string{second.CardID}, bob.Graveyard)
	assert.Equal(t, 1, bob.Counters.Resurrections)
}

func TestOnDestroyNoFreeCell(t *testing.T) {
	s := newSession(catalog.FactionHuman, catalog.FactionRobot)
	e := NewEngine(DefaultConfig(), &scriptedRoller{rolls: []float64{0}}, nil)

	for _, p := range catalog.ValidPositions(catalog.FactionRobot) {
		put(s, "bob", p)
	}
	dead := &match.BoardUnit{InstanceID: "gone", CardID: "robot_mech", Owner: "bob"}

	effects := e.Evaluate(&Context{Session: s, ActorID: "alice", Deaths: []*match.BoardUnit{dead}})
	assert.Empty(t, effects)
	assert.Equal(t, 0, s.Player("bob").Counters.Resurrections)
}

func TestEvaluateRecoversFromHandlerPanic(t *testing.T) {
	s := newSession(catalog.FactionAlien, catalog.FactionHuman)
	e := NewEngine(DefaultConfig(), nil, zaptest.NewLogger(t))
	e.Register(catalog.TriggerOnDeath, func(*Context, *match.PlayerState, catalog.PassiveDefinition) ([]match.EffectDescriptor, error) {
		panic("boom")
	})

	dead := []*match.BoardUnit{{InstanceID: "d1", Owner: "alice"}}
	assert.NotPanics(t, func() {
		effects := e.Evaluate(&Context{Session: s, ActorID: "alice", Deaths: dead})
		assert.Empty(t, effects)
	})
}

func TestOnDestroyWithoutRollerIsSkipped(t *testing.T) {
	s := newSession(catalog.FactionRobot, catalog.FactionHuman)
	e := NewEngine(DefaultConfig(), nil, zaptest.NewLogger(t))

	dead := []*match.BoardUnit{{InstanceID: "d1", Owner: "alice"}}
	assert.Empty(t, e.Evaluate(&Context{Session: s, ActorID: "alice", Deaths: dead}))
}

func TestCompletedLines(t *testing.T) {
	var b match.Board
	for r := 0; r < catalog.Rows; r++ {
		b.Place(pos(r, 4), &match.BoardUnit{})
	}
	assert.Equal(t, []string{"col:4"}, CompletedLines(&b))
}
