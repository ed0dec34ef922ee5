package qcache

import (
	"context"
	"sync"
)

// Subscription keeps an entry alive and observes its changes.
type Subscription struct {
	c   *Cache
	key Key
	id  string
	ch  chan struct{}

	detached bool // guarded by c.mu
	once     sync.Once
}

// Subscribe registers a subscriber for key. When the entry is absent (or
// stale and its policy refetches on mount) fn is called right away; live
// resource classes start polling. fn also becomes the entry's fetch function
// for invalidation, polling and reconnect/focus events. A nil fn keeps the
// one already registered.
func (c *Cache) Subscribe(ctx context.Context, key Key, fn FetchFunc) (*Subscription, error) {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, err := c.getOrCreateLocked(key)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	s := &Subscription{c: c, key: e.key.Clone(), id: e.id, ch: make(chan struct{}, 1)}
	e.subs[s] = struct{}{}
	if fn != nil {
		e.fetch = fn
	}
	c.cancelGCLocked(e)
	c.startPollLocked(e)
	c.mountLocked(ctx, e, &fx)
	c.mu.Unlock()
	fx.run()

	c.log.Debug("subscribed", Fields{"key": s.id})
	return s, nil
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key { return s.key.Clone() }

// Changes delivers a signal whenever the entry changes. Signals coalesce:
// read State after each one.
func (s *Subscription) Changes() <-chan struct{} { return s.ch }

func (s *Subscription) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// State returns the entry's current state, or an Idle/Absent state once the
// subscription is detached.
func (s *Subscription) State() State {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[s.id]
	if s.detached || e == nil {
		return State{Key: s.key.Clone(), Status: StatusIdle, Stale: true}
	}
	return c.stateLocked(e)
}

// Await waits until no fetch is in flight for the entry and returns its value
// and last error. Superseded fetches are followed to their replacement.
func (s *Subscription) Await(ctx context.Context) (any, error) {
	c := s.c
	for {
		c.mu.Lock()
		e := c.entries[s.id]
		if s.detached || e == nil {
			c.mu.Unlock()
			return nil, ErrDetached
		}
		r := e.inFlight
		if r == nil {
			v, err := e.value, e.err
			c.mu.Unlock()
			return v, err
		}
		c.mu.Unlock()

		if _, err := r.Wait(ctx); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// Refetch ignores freshness and supersedes any in-flight fetch using the
// entry's registered fetch function.
func (s *Subscription) Refetch(ctx context.Context) *Request {
	c := s.c
	c.mu.Lock()
	var fn FetchFunc
	if e := c.entries[s.id]; e != nil && !s.detached {
		fn = e.fetch
	}
	c.mu.Unlock()
	if fn == nil {
		return resolvedRequest(s.key.Clone(), nil, ErrDetached)
	}
	return c.Refetch(ctx, s.key, fn)
}

// Unsubscribe releases the subscription. The last subscriber leaving stops
// polling and starts the entry's retention timer. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		c := s.c
		c.mu.Lock()
		if !s.detached {
			if e := c.entries[s.id]; e != nil {
				delete(e.subs, s)
				if len(e.subs) == 0 {
					c.stopPollLocked(e)
					c.scheduleGCLocked(e)
				}
			}
		}
		s.detached = true
		c.mu.Unlock()
	})
}
