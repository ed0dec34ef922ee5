package qcache

import (
	"time"
)

// Status is the fetch lifecycle of an entry. Within one fetch cycle it only
// moves forward: Idle -> Fetching -> Success|Error, then Fetching again on the
// next cycle.
type Status uint8

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a read-only copy of an entry.
type State struct {
	Key         Key
	Value       any
	HasValue    bool // false => Absent
	Status      Status
	Err         error // last fetch error; kept until the next success
	FetchedAt   time.Time
	Stale       bool
	Fetching    bool
	Subscribers int
	Generation  uint64
}

// Value returns the state's value as V.
func Value[V any](s State) (V, bool) {
	var zero V
	if !s.HasValue {
		return zero, false
	}
	v, ok := s.Value.(V)
	return v, ok
}

// entry is guarded by Cache.mu.
type entry struct {
	key    Key
	id     string
	parts  []string
	policy Policy

	value       any
	hasValue    bool
	status      Status
	err         error
	fetchedAt   time.Time
	invalidated bool

	fetch    FetchFunc // last registered; used by invalidation, polling and events
	inFlight *Request

	subs map[*Subscription]struct{}

	gcTimer *time.Timer
	gcSeq   uint64
	poller  chan struct{} // closed to stop polling
}

func (e *entry) fresh(now time.Time) bool {
	if e.status != StatusSuccess || e.invalidated || !e.hasValue {
		return false
	}
	return now.Sub(e.fetchedAt) < e.policy.StaleAfter
}

func (e *entry) notifyLocked() {
	for s := range e.subs {
		s.signal()
	}
}
