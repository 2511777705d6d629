package game

import "sync/atomic"

// Stats is a snapshot of engine counters.
type Stats struct {
	SessionsCreated int64 `json:"sessions_created"`
	ActionsAccepted int64 `json:"actions_accepted"`
	ActionsRejected int64 `json:"actions_rejected"`
	Conflicts       int64 `json:"conflicts"`
	TimeoutsFired   int64 `json:"timeouts_fired"`
	TimeoutsDropped int64 `json:"timeouts_dropped"`
	InternalErrors  int64 `json:"internal_errors"`
}

type counters struct {
	sessionsCreated atomic.Int64
	actionsAccepted atomic.Int64
	actionsRejected atomic.Int64
	conflicts       atomic.Int64
	timeoutsFired   atomic.Int64
	timeoutsDropped atomic.Int64
	internalErrors  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		SessionsCreated: c.sessionsCreated.Load(),
		ActionsAccepted: c.actionsAccepted.Load(),
		ActionsRejected: c.actionsRejected.Load(),
		Conflicts:       c.conflicts.Load(),
		TimeoutsFired:   c.timeoutsFired.Load(),
		TimeoutsDropped: c.timeoutsDropped.Load(),
		InternalErrors:  c.internalErrors.Load(),
	}
}
