package combat

import (
	"errors"
	"testing"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(r, c int) match.Position { return match.Position{Row: r, Col: c} }

func newSession() *match.Session {
	attacker := &match.PlayerState{PlayerID: "alice", Faction: catalog.FactionRobot}
	defender := &match.PlayerState{PlayerID: "bob", Faction: catalog.FactionHuman}
	s := match.NewSession("s1", attacker, defender, time.Minute, time.Unix(0, 0))
	s.Status = match.StatusActive
	s.Phase = match.PhaseActions
	s.CurrentPlayer = "alice"
	s.Turn = 1
	return s
}

func place(s *match.Session, owner string, p match.Position, attack, health, rng int) *match.BoardUnit {
	u := &match.BoardUnit{
		InstanceID: owner + p.String(),
		CardID:     "test_unit",
		Owner:      owner,
		Attack:     attack,
		Health:     health,
		MaxHealth:  health,
		Range:      rng,
		CanAttack:  true,
	}
	s.Player(owner).Board.Place(p, u)
	return u
}

func TestLineIncludesEndpoints(t *testing.T) {
	line := Line(Cell{Row: 0, Col: 2}, Cell{Row: 5, Col: 2})
	require.Len(t, line, 6)
	for i, c := range line {
		assert.Equal(t, Cell{Row: i, Col: 2}, c)
	}

	diagonal := Line(Cell{Row: 0, Col: 0}, Cell{Row: 3, Col: 1})
	assert.Equal(t, []Cell{{0, 0}, {1, 0}, {2, 1}, {3, 1}}, diagonal)

	assert.Equal(t, []Cell{{2, 2}}, Line(Cell{Row: 2, Col: 2}, Cell{Row: 2, Col: 2}))
}

func TestValidateRangeFrontToFront(t *testing.T) {
	s := newSession()
	place(s, "alice", pos(0, 2), 1, 1, 1)
	place(s, "bob", pos(0, 2), 1, 1, 1)

	res := NewResolver().ValidateRange(s, "alice", pos(0, 2), pos(0, 2), 1)
	assert.Equal(t, 1, res.Distance)
	assert.True(t, res.InRange)
	assert.True(t, res.LineOfSight)
	assert.True(t, res.CanHit())
	assert.Len(t, res.Path, 2)
}

func TestValidateRangeBlockedByOwnUnit(t *testing.T) {
	s := newSession()
	place(s, "alice", pos(2, 2), 2, 2, 5)
	blocker := place(s, "alice", pos(0, 2), 1, 1, 1)
	place(s, "bob", pos(0, 2), 1, 1, 1)

	res := NewResolver().ValidateRange(s, "alice", pos(2, 2), pos(0, 2), 5)
	assert.Equal(t, 3, res.Distance)
	assert.True(t, res.InRange)
	assert.False(t, res.LineOfSight)
	require.NotNil(t, res.BlockedBy)
	assert.Equal(t, BoardCell{PlayerID: "alice", Position: blocker.Position}, *res.BlockedBy)
}

func TestValidateRangeBlockedByEnemyScreen(t *testing.T) {
	s := newSession()
	place(s, "alice", pos(0, 1), 2, 2, 4)
	place(s, "bob", pos(0, 1), 1, 3, 1)
	place(s, "bob", pos(2, 1), 1, 1, 1)

	res := NewResolver().ValidateRange(s, "alice", pos(0, 1), pos(2, 1), 4)
	assert.True(t, res.InRange)
	assert.False(t, res.LineOfSight)
	require.NotNil(t, res.BlockedBy)
	assert.Equal(t, "bob", res.BlockedBy.PlayerID)
	assert.Equal(t, pos(0, 1), res.BlockedBy.Position)
}

func TestValidateRangeDistanceIsNecessaryNotSufficient(t *testing.T) {
	s := newSession()
	place(s, "alice", pos(0, 0), 1, 1, 1)
	place(s, "bob", pos(1, 4), 1, 1, 1)

	res := NewResolver().ValidateRange(s, "alice", pos(0, 0), pos(1, 4), 3)
	assert.Equal(t, 6, res.Distance)
	assert.False(t, res.InRange)
	assert.True(t, res.LineOfSight)
	assert.False(t, res.CanHit())
}

func TestExecuteAttackSymmetricDamage(t *testing.T) {
	s := newSession()
	attacker := place(s, "alice", pos(0, 2), 3, 4, 1)
	place(s, "bob", pos(0, 2), 2, 3, 1)

	res, err := NewResolver().ExecuteAttack(s, "alice", pos(0, 2), pos(0, 2))
	require.NoError(t, err)

	assert.True(t, res.Target.Destroyed)
	assert.Equal(t, 0, res.Target.NewHealth)
	assert.False(t, res.Attacker.Destroyed)
	assert.Equal(t, 2, res.Attacker.NewHealth)
	assert.Equal(t, 2, attacker.Health)
	assert.True(t, attacker.HasAttacked)

	bob := s.Player("bob")
	assert.Nil(t, bob.Board.At(pos(0, 2)))
	assert.Equal(t, []string{"test_unit"}, bob.Graveyard)
	assert.Equal(t, 1, bob.Counters.UnitsLost)

	alice := s.Player("alice")
	assert.Equal(t, 1, alice.Counters.UnitsKilled)
	assert.Equal(t, 3, alice.Counters.DamageDealt)
	require.Len(t, res.Deaths, 1)

	events := res.Events()
	require.Len(t, events, 3)
	assert.Equal(t, match.EventCardDestroyed, events[2].Type)
}

func TestExecuteAttackMutualDestructionOrder(t *testing.T) {
	s := newSession()
	place(s, "alice", pos(0, 0), 5, 1, 1)
	place(s, "bob", pos(0, 0), 5, 1, 1)

	res, err := NewResolver().ExecuteAttack(s, "alice", pos(0, 0), pos(0, 0))
	require.NoError(t, err)
	require.Len(t, res.Deaths, 2)
	assert.Equal(t, "bob", res.Deaths[0].Owner)
	assert.Equal(t, "alice", res.Deaths[1].Owner)
	assert.Equal(t, []string{"test_unit"}, s.Player("alice").Graveyard)
}

func TestExecuteAttackMissingUnits(t *testing.T) {
	s := newSession()
	_, err := NewResolver().ExecuteAttack(s, "alice", pos(0, 0), pos(0, 0))
	assert.True(t, errors.Is(err, ErrNoAttacker))

	place(s, "alice", pos(0, 0), 1, 1, 1)
	_, err = NewResolver().ExecuteAttack(s, "alice", pos(0, 0), pos(0, 0))
	assert.True(t, errors.Is(err, ErrNoTarget))
}

func TestResolveSpells(t *testing.T) {
	cards := catalog.DefaultCards()
	s := newSession()
	ally := place(s, "alice", pos(0, 1), 2, 5, 1)
	ally.Health = 1
	place(s, "bob", pos(0, 3), 1, 3, 1)
	r := NewResolver()

	firebolt, _ := cards.Card("spell_firebolt")
	res, err := r.ResolveSpell(s, "alice", firebolt, &match.Position{Row: 0, Col: 3})
	require.NoError(t, err)
	require.NotNil(t, res.Target)
	assert.True(t, res.Target.Destroyed)
	assert.Len(t, res.Deaths, 1)
	assert.Equal(t, 1, s.Player("alice").Counters.SpellsCast)

	events := res.Events()
	require.Len(t, events, 3)
	assert.Equal(t, match.EventSpellCast, events[0].Type)
	assert.Equal(t, "spell_firebolt", events[0].CardID)
	assert.Equal(t, 3, events[0].Amount)
	require.NotNil(t, events[0].Position)
	assert.Equal(t, match.Position{Row: 0, Col: 3}, *events[0].Position)
	assert.Equal(t, match.EventDamageDealt, events[1].Type)
	assert.Equal(t, match.EventCardDestroyed, events[2].Type)

	mend, _ := cards.Card("spell_mend")
	res, err = r.ResolveSpell(s, "alice", mend, &match.Position{Row: 0, Col: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, ally.Health)
	assert.Equal(t, 3, res.Target.Healed)

	overclock, _ := cards.Card("spell_overclock")
	_, err = r.ResolveSpell(s, "alice", overclock, &match.Position{Row: 0, Col: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, ally.EffectiveAttack())
	require.Len(t, ally.Effects, 1)
	assert.Equal(t, 2, ally.Effects[0].TurnsRemaining)

	_, err = r.ResolveSpell(s, "alice", firebolt, &match.Position{Row: 2, Col: 2})
	assert.True(t, errors.Is(err, ErrNoTarget))
}
