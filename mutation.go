package qcache

import (
	"context"

	"github.com/google/uuid"
	"github.com/unkn0wn-root/qcache/internal/util"
)

// MutationStage is the progress of one Mutate call.
type MutationStage uint8

const (
	MutationPending MutationStage = iota
	MutationMutating
	MutationSettledSuccess
	MutationSettledError
	MutationDone
)

func (s MutationStage) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationMutating:
		return "mutating"
	case MutationSettledSuccess:
		return "settled_success"
	case MutationSettledError:
		return "settled_error"
	case MutationDone:
		return "done"
	default:
		return "unknown"
	}
}

// Mutation describes a server write and its effect on cached entries.
// Only entries the cache already holds are touched; a mutation never creates
// an entry.
type Mutation[I, O any] struct {
	Name string

	// Do performs the server call. It is not cancelled once started.
	Do func(ctx context.Context, in I) (O, error)

	// Affects returns the key prefixes the mutation touches. Fetches in flight
	// under them are cancelled before Do runs.
	Affects func(in I) []Key

	// Optimistic computes the value written to an affected entry before Do
	// runs. ok=false leaves the entry alone. nil disables optimistic writes.
	// It runs with the cache locked and must not call back into it.
	Optimistic func(key Key, prev any, hasPrev bool, in I) (next any, ok bool)

	// Apply computes the authoritative value written after Do succeeds.
	// ok=false leaves the entry alone. nil skips the write. Same locking rule
	// as Optimistic.
	Apply func(key Key, out O, in I) (next any, ok bool)

	// Invalidates returns the prefixes invalidated once the mutation settles,
	// whatever its outcome. nil => Affects.
	Invalidates func(in I) []Key

	// SuccessMessage, when set, emits a Success notification.
	SuccessMessage func(in I, out O) string
}

// prior is what an affected entry held before the optimistic write.
type prior interface{ isPrior() }

type priorValue struct{ v any }

type noPrior struct{}

func (priorValue) isPrior() {}
func (noPrior) isPrior()    {}

type snapshot struct {
	e     *entry
	prior prior
}

type mutationContext struct {
	id        string
	name      string
	stage     MutationStage
	snapshots []snapshot
}

// Mutate runs m with input in:
//
//  1. fetches in flight under the affected prefixes are cancelled, the
//     affected entries snapshotted and the optimistic values written;
//  2. m.Do runs;
//  3. on error, every snapshotted entry is restored and a Rollback
//     notification is emitted; the error is returned as *MutationError;
//  4. on success, the authoritative values are written;
//  5. in both cases the invalidated prefixes are refetched.
//
// Concurrent mutations of the same key are not serialized: the last write wins.
func Mutate[I, O any](ctx context.Context, c *Cache, m Mutation[I, O], in I) (O, error) {
	var zero O
	mc := &mutationContext{id: uuid.NewString(), name: m.Name, stage: MutationPending}
	if m.Do == nil {
		return zero, &MutationError{Mutation: m.Name, ID: mc.id, Err: ErrNoFetchFunc}
	}
	if err := ctx.Err(); err != nil {
		return zero, &MutationError{Mutation: m.Name, ID: mc.id, Err: err}
	}

	var affects []Key
	if m.Affects != nil {
		affects = m.Affects(in)
	}
	if err := c.onMutate(mc, affects, func(k Key, prev any, has bool) (any, bool) {
		if m.Optimistic == nil {
			return nil, false
		}
		return m.Optimistic(k, prev, has, in)
	}); err != nil {
		return zero, &MutationError{Mutation: m.Name, ID: mc.id, Err: err}
	}

	mc.stage = MutationMutating
	c.log.Debug("mutation started", Fields{"mutation": mc.name, "id": mc.id, "optimistic": len(mc.snapshots)})
	out, err := m.Do(context.WithoutCancel(ctx), in)

	invalidates := affects
	if m.Invalidates != nil {
		invalidates = m.Invalidates(in)
	}

	if err != nil {
		mc.stage = MutationSettledError
		restored := c.rollback(mc, err)
		c.settle(ctx, mc, invalidates)
		return zero, &MutationError{Mutation: m.Name, ID: mc.id, Err: err, RolledBack: restored}
	}

	mc.stage = MutationSettledSuccess
	if m.Apply != nil {
		c.reconcile(mc, affects, func(k Key) (any, bool) { return m.Apply(k, out, in) })
	}
	if m.SuccessMessage != nil {
		var key Key
		if len(affects) > 0 {
			key = affects[0].Clone()
		}
		c.notifier.Notify(Notification{Kind: NotifySuccess, Key: key, Message: m.SuccessMessage(in, out), MutationID: mc.id})
	}
	c.settle(ctx, mc, invalidates)
	return out, nil
}

// onMutate cancels, snapshots and writes optimistically under one lock, so
// no fetch can land between the snapshot and the optimistic value.
func (c *Cache) onMutate(mc *mutationContext, affects []Key, optimistic func(Key, any, bool) (any, bool)) error {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for _, e := range c.matchLocked(affects) {
		c.cancelInFlightLocked(e, "mutation", &fx)

		next, ok := optimistic(e.key.Clone(), e.value, e.hasValue)
		if !ok {
			continue
		}
		var p prior = noPrior{}
		if e.hasValue {
			p = priorValue{v: e.value}
		}
		mc.snapshots = append(mc.snapshots, snapshot{e: e, prior: p})
		c.writeLocked(e, next, &fx)
	}
	c.mu.Unlock()
	fx.run()
	return nil
}

// rollback restores snapshotted entries. An entry that was evicted in the
// meantime has nothing to restore into and is skipped.
func (c *Cache) rollback(mc *mutationContext, cause error) int {
	var fx effects
	var first Key
	restored := 0
	c.mu.Lock()
	for _, s := range mc.snapshots {
		if c.entries[s.e.id] != s.e {
			continue
		}
		switch p := s.prior.(type) {
		case priorValue:
			c.writeLocked(s.e, p.v, &fx)
		case noPrior:
			c.clearLocked(s.e, &fx)
		}
		if first == nil {
			first = s.e.key.Clone()
		}
		restored++
	}
	c.mu.Unlock()
	fx.run()

	c.log.Warn("mutation failed", Fields{"mutation": mc.name, "id": mc.id, "restored": restored, "err": cause})
	c.hooks.MutationRolledBack(mc.name, restored, cause)

	kind := NotifyRollback
	if restored == 0 {
		kind = NotifyError
	}
	c.notifier.Notify(Notification{Kind: kind, Key: first, Message: cause.Error(), MutationID: mc.id})
	return restored
}

func (c *Cache) reconcile(mc *mutationContext, affects []Key, apply func(Key) (any, bool)) {
	var fx effects
	c.mu.Lock()
	if !c.closed {
		for _, e := range c.matchLocked(affects) {
			if next, ok := apply(e.key.Clone()); ok {
				c.writeLocked(e, next, &fx)
			}
		}
	}
	c.mu.Unlock()
	fx.run()
}

func (c *Cache) settle(ctx context.Context, mc *mutationContext, prefixes []Key) {
	for _, p := range prefixes {
		c.Invalidate(ctx, p)
	}
	outcome := mc.stage
	mc.stage = MutationDone
	mc.snapshots = nil
	c.log.Debug("mutation settled", Fields{"mutation": mc.name, "id": mc.id, "outcome": outcome.String()})
}

// matchLocked returns the entries under any of prefixes, each once.
func (c *Cache) matchLocked(prefixes []Key) []*entry {
	if len(prefixes) == 0 {
		return nil
	}
	pps := make([][]string, 0, len(prefixes))
	for _, p := range prefixes {
		pp, err := p.parts()
		if err != nil {
			c.log.Warn("bad key prefix", Fields{"err": err})
			continue
		}
		pps = append(pps, pp)
	}
	var out []*entry
	for _, e := range c.entries {
		for _, pp := range pps {
			if util.HasPrefixParts(e.parts, pp) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
