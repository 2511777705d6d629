package quest

import (
	"fmt"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"go.uber.org/zap"
)

// Picker chooses an index in [0,n). *rand.Rand satisfies it.
type Picker interface {
	Intn(n int) int
}

// Tracker assigns hidden objectives and advances them after every action.
type Tracker struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(now func() time.Time, logger *zap.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{now: now, logger: logger}
}

// Assign picks one of the player's faction objectives.
func (t *Tracker) Assign(p *match.PlayerState, picker Picker) error {
	defs := ForFaction(p.Faction)
	if len(defs) == 0 {
		return fmt.Errorf("no quests for faction %q", p.Faction)
	}
	idx := 0
	if picker != nil {
		idx = picker.Intn(len(defs))
	}
	def := defs[idx]

	progress := match.QuestProgress{QuestID: def.ID, Target: def.Target}
	for _, threshold := range def.Milestones {
		progress.Milestones = append(progress.Milestones, match.Milestone{Threshold: threshold})
	}
	p.Quest = progress
	return nil
}

// Input carries one resolved action to the tracker. Before holds every
// player's counters as they were before the action.
type Input struct {
	Session *match.Session
	Action  match.Action
	ActorID string
	Before  map[string]match.Counters
}

// Evaluate advances both players' quests and returns the deltas made.
// Failures are logged and skipped.
func (t *Tracker) Evaluate(in Input) []match.QuestDelta {
	if in.Session == nil {
		return nil
	}
	var deltas []match.QuestDelta
	for _, playerID := range []string{in.ActorID, in.Session.OpponentID(in.ActorID)} {
		player := in.Session.Player(playerID)
		if player == nil || player.Quest.Completed || player.Quest.QuestID == "" {
			continue
		}
		delta, err := t.advance(in, player)
		if err != nil {
			t.logger.Warn("quest evaluation failed",
				zap.String("session_id", in.Session.ID),
				zap.String("player_id", playerID),
				zap.String("quest_id", player.Quest.QuestID),
				zap.Error(err))
			continue
		}
		if delta != nil {
			deltas = append(deltas, *delta)
		}
	}
	return deltas
}

func (t *Tracker) advance(in Input, player *match.PlayerState) (delta *match.QuestDelta, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = fmt.Errorf("quest condition panicked: %v", r)
		}
	}()

	def, ok := Lookup(player.Quest.QuestID)
	if !ok {
		return nil, fmt.Errorf("unknown quest %q", player.Quest.QuestID)
	}
	raw := def.Condition(Observation{
		Session: in.Session,
		Action:  in.Action,
		ActorID: in.ActorID,
		Player:  player,
		Before:  in.Before[player.PlayerID],
	})
	if raw <= 0 {
		return nil, nil
	}
	delta = Apply(&player.Quest, raw, t.now())
	if delta != nil {
		delta.PlayerID = player.PlayerID
	}
	return delta, nil
}

// Apply adds a non-negative amount to progress, clamped to the target, and
// stamps crossed milestones and completion.
func Apply(q *match.QuestProgress, amount int, now time.Time) *match.QuestDelta {
	if amount <= 0 || q.Completed {
		return nil
	}
	next := q.Current + amount
	if next > q.Target {
		next = q.Target
	}
	gained := next - q.Current
	if gained <= 0 {
		return nil
	}
	q.Current = next

	d := &match.QuestDelta{QuestID: q.QuestID, Delta: gained, Current: q.Current, Target: q.Target}
	for i := range q.Milestones {
		m := &q.Milestones[i]
		if m.AchievedAt == nil && m.Threshold <= q.Current {
			at := now
			m.AchievedAt = &at
			d.Milestones = append(d.Milestones, m.Threshold)
		}
	}
	if q.Current >= q.Target {
		at := now
		q.Completed = true
		q.CompletedAt = &at
		d.Completed = true
	}
	return d
}
