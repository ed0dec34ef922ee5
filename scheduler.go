package qcache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// mountLocked is the mount trigger: absent or invalidated entries always fetch,
// merely stale ones only when the policy refetches on mount.
func (c *Cache) mountLocked(ctx context.Context, e *entry, fx *effects) {
	if e.fetch == nil {
		return
	}
	if e.inFlight != nil {
		id := e.id
		fx.add(func() { c.hooks.FetchDeduplicated(id) })
		return
	}
	if !e.hasValue || e.invalidated || (e.policy.RefetchOnMount && !e.fresh(c.now())) {
		c.issueLocked(ctx, e, e.fetch, TriggerMount, fx)
	}
}

func (c *Cache) startPollLocked(e *entry) {
	if c.closed || e.policy.PollInterval <= 0 || e.poller != nil {
		return
	}
	stop := make(chan struct{})
	e.poller = stop
	c.wg.Add(1)
	go c.poll(e, stop, e.policy.PollInterval)
}

func (c *Cache) stopPollLocked(e *entry) {
	if e.poller != nil {
		close(e.poller)
		e.poller = nil
	}
}

// poll refetches regardless of staleness; a fetch already in flight counts.
func (c *Cache) poll(e *entry, stop chan struct{}, every time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-t.C:
			var fx effects
			c.mu.Lock()
			if !c.closed && c.entries[e.id] == e && e.poller == stop && e.inFlight == nil && e.fetch != nil {
				c.issueLocked(context.Background(), e, e.fetch, TriggerPoll, &fx)
			}
			c.mu.Unlock()
			fx.run()
		}
	}
}

// Revalidate refetches stale, subscribed entries whose policy opts in to
// trigger (TriggerReconnect or TriggerFocus; any other trigger revalidates
// every stale subscribed entry). It returns the number of fetches issued.
func (c *Cache) Revalidate(ctx context.Context, trigger Trigger) int {
	var fx effects
	n := 0
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	now := c.now()
	for _, e := range c.entries {
		if len(e.subs) == 0 || e.fetch == nil || e.inFlight != nil || e.fresh(now) {
			continue
		}
		switch trigger {
		case TriggerReconnect:
			if !e.policy.RefetchOnReconnect {
				continue
			}
		case TriggerFocus:
			if !e.policy.RefetchOnFocus {
				continue
			}
		}
		c.issueLocked(ctx, e, e.fetch, trigger, &fx)
		n++
	}
	c.mu.Unlock()
	fx.run()

	if n > 0 {
		c.log.Debug("revalidated", Fields{"trigger": string(trigger), "fetches": n})
	}
	return n
}

// Prefetch warms key with the same freshness rules as Fetch but never
// registers a subscriber: the entry is retained for its policy's RetainFor
// and then collected unless someone subscribes.
func (c *Cache) Prefetch(ctx context.Context, key Key, fn FetchFunc) *Request {
	return c.fetch(ctx, key, fn, TriggerPrefetch, false)
}

// PrefetchRelated prefetches related(key), e.g. next month's calendar from
// the current one.
func (c *Cache) PrefetchRelated(ctx context.Context, key Key, related func(Key) Key, fn FetchFunc) *Request {
	return c.Prefetch(ctx, related(key.Clone()), fn)
}

// Events is the environment's source of connectivity and visibility changes.
type Events interface {
	Reconnected() <-chan struct{}
	Focused() <-chan struct{}
}

// Scheduler revalidates the cache when the environment reports a reconnect
// or regained focus.
type Scheduler struct {
	c  *Cache
	ev Events
}

func NewScheduler(c *Cache, ev Events) *Scheduler {
	return &Scheduler{c: c, ev: ev}
}

// Run listens until ctx ends or both event channels are closed.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listen(ctx, s.ev.Reconnected(), TriggerReconnect) })
	g.Go(func() error { return s.listen(ctx, s.ev.Focused(), TriggerFocus) })
	return g.Wait()
}

func (s *Scheduler) listen(ctx context.Context, ch <-chan struct{}, trigger Trigger) error {
	if ch == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			s.c.Revalidate(ctx, trigger)
		}
	}
}

// Signals is a channel-backed Events. Repeated signals before the scheduler
// picks one up coalesce.
type Signals struct {
	reconnect chan struct{}
	focus     chan struct{}
}

func NewSignals() *Signals {
	return &Signals{
		reconnect: make(chan struct{}, 1),
		focus:     make(chan struct{}, 1),
	}
}

func (s *Signals) Reconnect() { notifyChan(s.reconnect) }
func (s *Signals) Focus()     { notifyChan(s.focus) }

func (s *Signals) Reconnected() <-chan struct{} { return s.reconnect }
func (s *Signals) Focused() <-chan struct{}     { return s.focus }

func notifyChan(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
