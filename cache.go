package qcache

import (
	"context"
	"sync"
	"time"

	gen "github.com/unkn0wn-root/qcache/genstore"
	"github.com/unkn0wn-root/qcache/internal/util"
)

// Cache is the process-wide store of server-derived data. Create one per
// application session (or per test) with New and release it with Close.
//
// All cache operations are atomic with respect to each other; only fetch
// functions, mutation calls and timers run outside the lock.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	opts     Options
	log      Logger
	hooks    Hooks
	notifier Notifier
	gens     gen.GenStore
	retry    RetryPolicy
	now      func() time.Time

	session   *SessionOptions
	sessionID string
	// last value handed to storage; reseeds the session entry after GC
	sessionSeed    any
	hasSessionSeed bool
	sessionSeq     uint64

	// sessionMu orders Persist/Clear calls; sessionApplied is the newest
	// sequence number that reached storage.
	sessionMu      sync.Mutex
	sessionApplied uint64

	// root context of every fetch; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// effects run after the lock is released (hooks, notifications, session callbacks).
type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

func New(opts Options) (*Cache, error) {
	c := &Cache{
		entries: make(map[string]*entry),
		opts:    opts,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.notifier = coalesce[Notifier](opts.Notifier, NopNotifier{})
	c.retry = coalesce[RetryPolicy](opts.Retry, NoRetry{})
	if opts.Now != nil {
		c.now = opts.Now
	} else {
		c.now = time.Now
	}

	if opts.Session != nil {
		p, err := opts.Session.Key.parts()
		if err != nil {
			return nil, err
		}
		c.session = opts.Session
		c.sessionID = util.JoinParts(p)
	}

	if opts.GenStore != nil {
		c.gens = opts.GenStore
	} else {
		c.gens = gen.NewLocalGenStore(defaultGenSweep, defaultGenRetention)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	if c.session != nil {
		c.loadSession()
		c.mu.Lock()
		if e, err := c.getOrCreateLocked(c.session.Key); err == nil {
			c.scheduleGCLocked(e)
		}
		c.mu.Unlock()
	}
	return c, nil
}

// Close cancels every in-flight fetch, stops pollers and GC timers and waits
// for background goroutines (bounded by ctx). The cache rejects further use.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var fx effects
		c.mu.Lock()
		c.closed = true
		for _, e := range c.entries {
			c.cancelInFlightLocked(e, "closed", &fx)
			c.stopTimersLocked(e)
		}
		c.mu.Unlock()
		fx.run()
		c.cancel()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.gens.Close(ctx)
}

// Entry returns the state for key, creating an Idle/Absent entry when the key
// is unknown. Created entries without subscribers are subject to GC.
func (c *Cache) Entry(key Key) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return State{}, ErrClosed
	}
	e, err := c.getOrCreateLocked(key)
	if err != nil {
		return State{}, err
	}
	c.scheduleGCLocked(e)
	return c.stateLocked(e), nil
}

// Read is a pure lookup: it never creates an entry or touches freshness.
func (c *Cache) Read(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookupLocked(key)
	if e == nil || !e.hasValue {
		return nil, false
	}
	return e.value, true
}

// Write replaces the value for key (status Success, fetched now). Any fetch
// in flight for key is cancelled so it can never overwrite this value.
func (c *Cache) Write(key Key, value any) error {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	e, err := c.getOrCreateLocked(key)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.writeLocked(e, value, &fx)
	c.scheduleGCLocked(e)
	c.mu.Unlock()
	fx.run()
	return nil
}

// Invalidate marks every entry under prefix stale regardless of its age.
// Entries with subscribers are refetched immediately, superseding any fetch
// already in flight. It returns the number of matching entries.
func (c *Cache) Invalidate(ctx context.Context, prefix Key) int {
	pp, err := prefix.parts()
	if err != nil {
		c.log.Warn("invalidate: bad prefix", Fields{"err": err})
		return 0
	}

	var fx effects
	n := 0
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	for _, e := range c.entries {
		if !util.HasPrefixParts(e.parts, pp) {
			continue
		}
		n++
		e.invalidated = true
		if len(e.subs) > 0 && e.fetch != nil {
			c.cancelInFlightLocked(e, "superseded", &fx)
			c.issueLocked(ctx, e, e.fetch, TriggerInvalidate, &fx)
		} else {
			e.notifyLocked()
		}
	}
	c.mu.Unlock()
	fx.run()

	c.log.Debug("invalidated prefix", Fields{"prefix": prefix.String(), "matched": n})
	return n
}

// Remove deletes every entry under any of the prefixes. In-flight fetches are
// cancelled first; subscriptions of removed entries are detached.
func (c *Cache) Remove(prefixes ...Key) int {
	var fx effects
	c.mu.Lock()
	n, _ := c.removeLocked(prefixes, &fx)
	c.mu.Unlock()
	fx.run()
	return n
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookupLocked(key Key) *entry {
	p, err := key.parts()
	if err != nil {
		return nil
	}
	return c.entries[util.JoinParts(p)]
}

func (c *Cache) getOrCreateLocked(key Key) (*entry, error) {
	p, err := key.parts()
	if err != nil {
		return nil, err
	}
	id := util.JoinParts(p)
	if e, ok := c.entries[id]; ok {
		return e, nil
	}

	e := &entry{
		key:    key.Clone(),
		id:     id,
		parts:  p,
		policy: c.opts.policyFor(key.Class()),
		subs:   make(map[*Subscription]struct{}),
	}
	if id == c.sessionID {
		c.seedSessionLocked(e)
	}
	c.entries[id] = e
	return e, nil
}

func (c *Cache) removeLocked(prefixes []Key, fx *effects) (n int, sessionRemoved bool) {
	for _, e := range c.matchLocked(prefixes) {
		if e.id == c.sessionID {
			sessionRemoved = true
		}
		c.dropLocked(e, "removed", fx)
		n++
	}
	return n, sessionRemoved
}

// dropLocked deletes e. reason is "gc" or "removed"; only removal clears the
// persisted session.
func (c *Cache) dropLocked(e *entry, reason string, fx *effects) {
	c.cancelInFlightLocked(e, "removed", fx)
	c.stopTimersLocked(e)
	for s := range e.subs {
		s.detached = true
		s.signal()
	}
	e.subs = nil
	delete(c.entries, e.id)
	c.bumpGen(e.id)

	id := e.id
	fx.add(func() { c.hooks.Evicted(id, reason) })
	if reason == "removed" && id == c.sessionID {
		c.clearSessionEffect(fx)
	}
}

// writeLocked is the single entry point for values that did not come from the
// entry's own fetch: it cancels the in-flight fetch and moves the generation.
func (c *Cache) writeLocked(e *entry, v any, fx *effects) {
	c.cancelInFlightLocked(e, "write", fx)
	c.bumpGen(e.id)
	c.storeLocked(e, v, fx)
}

func (c *Cache) storeLocked(e *entry, v any, fx *effects) {
	e.value = v
	e.hasValue = true
	e.status = StatusSuccess
	e.err = nil
	e.fetchedAt = c.now()
	e.invalidated = false
	e.notifyLocked()
	if e.id == c.sessionID {
		c.persistSessionEffect(v, fx)
	}
}

// clearLocked returns e to Idle/Absent without removing it.
func (c *Cache) clearLocked(e *entry, fx *effects) {
	c.cancelInFlightLocked(e, "write", fx)
	c.bumpGen(e.id)
	e.value = nil
	e.hasValue = false
	e.status = StatusIdle
	e.err = nil
	e.fetchedAt = time.Time{}
	e.notifyLocked()
}

func (c *Cache) cancelInFlightLocked(e *entry, reason string, fx *effects) {
	r := e.inFlight
	if r == nil {
		return
	}
	e.inFlight = nil
	if e.status == StatusFetching {
		e.status = r.prevStatus
	}
	r.discard()
	e.notifyLocked()

	id := e.id
	fx.add(func() { c.hooks.FetchDiscarded(id, reason) })
}

func (c *Cache) stopTimersLocked(e *entry) {
	c.cancelGCLocked(e)
	c.stopPollLocked(e)
}

func (c *Cache) stateLocked(e *entry) State {
	return State{
		Key:         e.key.Clone(),
		Value:       e.value,
		HasValue:    e.hasValue,
		Status:      e.status,
		Err:         e.err,
		FetchedAt:   e.fetchedAt,
		Stale:       !e.fresh(c.now()),
		Fetching:    e.inFlight != nil,
		Subscribers: len(e.subs),
		Generation:  c.snapshotGen(e.id),
	}
}

func (c *Cache) snapshotGen(id string) uint64 {
	g, err := c.gens.Snapshot(context.Background(), id)
	if err != nil {
		c.log.Warn("gen snapshot error", Fields{"key": id, "err": err})
		c.hooks.GenStoreError(id, err)
		return 0
	}
	return g
}

// genCurrent reports whether r was issued under the current generation.
// A failing store never lets a result through.
func (c *Cache) genCurrent(r *Request) bool {
	g, err := c.gens.Snapshot(context.Background(), r.id)
	if err != nil {
		c.log.Warn("gen snapshot error", Fields{"key": r.id, "err": err})
		c.hooks.GenStoreError(r.id, err)
		return false
	}
	return g == r.gen
}

func (c *Cache) bumpGen(id string) uint64 {
	g, err := c.gens.Bump(context.Background(), id)
	if err != nil {
		c.log.Error("gen bump error", Fields{"key": id, "err": err})
		c.hooks.GenStoreError(id, err)
		return 0
	}
	return g
}
