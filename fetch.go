package qcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Trigger names what caused a fetch; it shows up in logs.
type Trigger string

const (
	TriggerFetch      Trigger = "fetch"
	TriggerRefetch    Trigger = "refetch"
	TriggerMount      Trigger = "mount"
	TriggerPoll       Trigger = "poll"
	TriggerReconnect  Trigger = "reconnect"
	TriggerFocus      Trigger = "focus"
	TriggerInvalidate Trigger = "invalidate"
	TriggerPrefetch   Trigger = "prefetch"
)

// Request is the handle of one fetch. Concurrent callers of Fetch for the
// same key share a Request. Requests served from cache are already done.
type Request struct {
	c          *Cache
	key        Key
	id         string
	gen        uint64
	trigger    Trigger
	prevStatus Status

	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool

	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func resolvedRequest(key Key, v any, err error) *Request {
	r := &Request{key: key, done: make(chan struct{})}
	r.resolve(v, err)
	return r
}

// Key returns the key being fetched.
func (r *Request) Key() Key { return r.key.Clone() }

// Generation is the token the fetch was issued under (0 for cache hits).
func (r *Request) Generation() uint64 { return r.gen }

// Done is closed once the request settles.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the request settles or ctx ends. A superseded or
// cancelled request returns ErrCancelled.
func (r *Request) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts the fetch for every caller sharing it. The entry keeps its
// previous value and status. Cancelling a settled request is a no-op.
func (r *Request) Cancel() {
	if r.c == nil {
		return
	}
	r.c.cancelRequest(r)
}

func (r *Request) resolve(v any, err error) {
	r.once.Do(func() {
		r.value, r.err = v, err
		close(r.done)
	})
}

func (r *Request) resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// discard signals the abort channel and settles waiters right away, without
// waiting for a fetch function that may ignore its context.
func (r *Request) discard() {
	if r.cancel != nil {
		r.cancel()
	}
	r.resolve(nil, ErrCancelled)
}

func (r *Request) release() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.stop != nil {
		r.stop()
	}
}

// Fetch returns the data for key:
//   - a fetch already in flight for key is joined (no second network call);
//   - a fresh cached value is served without a network call;
//   - otherwise fn is called.
//
// ctx contributes values (auth, tracing) to the fetch but not cancellation:
// the fetch is shared, so use Request.Cancel or Wait's ctx instead.
func (c *Cache) Fetch(ctx context.Context, key Key, fn FetchFunc) *Request {
	return c.fetch(ctx, key, fn, TriggerFetch, false)
}

// Refetch ignores freshness and supersedes a fetch already in flight for key.
// The superseded fetch is cancelled and its result can never be written.
func (c *Cache) Refetch(ctx context.Context, key Key, fn FetchFunc) *Request {
	return c.fetch(ctx, key, fn, TriggerRefetch, true)
}

func (c *Cache) fetch(ctx context.Context, key Key, fn FetchFunc, trigger Trigger, force bool) *Request {
	if fn == nil {
		return resolvedRequest(key, nil, ErrNoFetchFunc)
	}

	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return resolvedRequest(key, nil, ErrClosed)
	}
	e, err := c.getOrCreateLocked(key)
	if err != nil {
		c.mu.Unlock()
		return resolvedRequest(key, nil, err)
	}
	e.fetch = fn

	var r *Request
	if force {
		c.cancelInFlightLocked(e, "superseded", &fx)
		r = c.issueLocked(ctx, e, fn, trigger, &fx)
	} else {
		r = c.ensureLocked(ctx, e, fn, trigger, &fx)
	}
	c.scheduleGCLocked(e)
	c.mu.Unlock()
	fx.run()
	return r
}

// ensureLocked joins, serves or issues, in that order.
func (c *Cache) ensureLocked(ctx context.Context, e *entry, fn FetchFunc, trigger Trigger, fx *effects) *Request {
	if r := e.inFlight; r != nil {
		id := e.id
		fx.add(func() { c.hooks.FetchDeduplicated(id) })
		return r
	}
	if e.fresh(c.now()) {
		return resolvedRequest(e.key.Clone(), e.value, nil)
	}
	return c.issueLocked(ctx, e, fn, trigger, fx)
}

func (c *Cache) issueLocked(ctx context.Context, e *entry, fn FetchFunc, trigger Trigger, fx *effects) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)

	r := &Request{
		c:          c,
		key:        e.key.Clone(),
		id:         e.id,
		trigger:    trigger,
		prevStatus: e.status,
		ctx:        rctx,
		cancel:     cancel,
		stop:       stop,
		done:       make(chan struct{}),
	}
	r.gen = c.bumpGen(e.id)
	e.inFlight = r
	e.status = StatusFetching
	e.notifyLocked()

	c.log.Debug("fetch issued", Fields{"key": e.id, "gen": r.gen, "trigger": string(trigger)})

	c.wg.Add(1)
	go c.run(r, fn)
	return r
}

func (c *Cache) run(r *Request, fn FetchFunc) {
	defer c.wg.Done()
	defer r.release()

	v, attempts, err := c.attempt(r, fn)
	c.commit(r, v, attempts, err)
}

// attempt calls fn, retrying transient failures as the RetryPolicy allows.
func (c *Cache) attempt(r *Request, fn FetchFunc) (any, int, error) {
	for n := 1; ; n++ {
		v, err := callFetch(r.ctx, r.key.Clone(), fn)
		if err == nil {
			return v, n, nil
		}
		if r.ctx.Err() != nil {
			return nil, n, ErrCancelled
		}
		if !IsTransient(err) {
			return nil, n, err
		}
		wait, ok := c.retry.Next(n, err)
		if !ok {
			return nil, n, err
		}
		c.log.Debug("fetch retry scheduled", Fields{"key": r.id, "attempt": n, "wait": wait.String(), "err": err})

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-r.ctx.Done():
			t.Stop()
			return nil, n, ErrCancelled
		}
	}
}

func callFetch(ctx context.Context, key Key, fn FetchFunc) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("qcache: fetch %s panicked: %v", key, p)
		}
	}()
	return fn(ctx, key)
}

// commit writes the outcome of r iff r is still the entry's in-flight request
// and its generation is current.
func (c *Cache) commit(r *Request, v any, attempts int, err error) {
	var fx effects
	c.mu.Lock()
	e := c.entries[r.id]

	switch {
	case r.resolved():
		// discarded while the fetch function was running
		c.mu.Unlock()
		return
	case e == nil || e.inFlight != r:
		c.mu.Unlock()
		c.hooks.FetchDiscarded(r.id, "stale_generation")
		r.resolve(nil, ErrCancelled)
		return
	case r.ctx.Err() != nil || errors.Is(err, ErrCancelled):
		c.cancelInFlightLocked(e, "cancelled", &fx)
		c.mu.Unlock()
		fx.run()
		return
	case !c.genCurrent(r):
		c.cancelInFlightLocked(e, "stale_generation", &fx)
		c.mu.Unlock()
		fx.run()
		return
	}

	e.inFlight = nil
	if err != nil {
		e.status = StatusError
		e.err = err
		e.notifyLocked()

		key := e.key.Clone()
		c.log.Warn("fetch failed", Fields{"key": r.id, "attempts": attempts, "err": err})
		fx.add(func() {
			c.hooks.FetchFailed(r.id, attempts, err)
			c.notifier.Notify(Notification{Kind: NotifyError, Key: key, Message: err.Error()})
		})
	} else {
		c.storeLocked(e, v, &fx)
	}
	c.mu.Unlock()

	fx.run()
	r.resolve(v, err)
}

func (c *Cache) cancelRequest(r *Request) {
	var fx effects
	c.mu.Lock()
	if e := c.entries[r.id]; e != nil && e.inFlight == r {
		c.cancelInFlightLocked(e, "cancelled", &fx)
	}
	c.mu.Unlock()
	fx.run()
}
