package qcache

import "reflect"

// loadSession reads the persisted value once, before the cache is shared.
// Storage is only written through this cache afterwards, so the in-memory
// copy stays authoritative.
func (c *Cache) loadSession() {
	if c.session.Initial == nil {
		return
	}
	v, ok := c.session.Initial()
	if !ok || isNil(v) {
		return
	}
	c.sessionSeed, c.hasSessionSeed = v, true
}

// seedSessionLocked installs the last persisted session value into a freshly
// created session entry. The value counts as fetched now.
func (c *Cache) seedSessionLocked(e *entry) {
	if !c.hasSessionSeed {
		return
	}
	e.value = c.sessionSeed
	e.hasValue = true
	e.status = StatusSuccess
	e.fetchedAt = c.now()
}

// persistSessionEffect hands a written session value to the collaborator.
// Writing nil is how the session ends, so it clears storage instead.
func (c *Cache) persistSessionEffect(v any, fx *effects) {
	if isNil(v) {
		c.clearSessionEffect(fx)
		return
	}
	c.sessionSeed, c.hasSessionSeed = v, true
	seq := c.nextSessionSeqLocked()
	if p := c.session.Persist; p != nil {
		fx.add(func() { c.applySession(seq, func() { p(v) }) })
	}
}

func (c *Cache) clearSessionEffect(fx *effects) {
	c.sessionSeed, c.hasSessionSeed = nil, false
	seq := c.nextSessionSeqLocked()
	if cl := c.session.Clear; cl != nil {
		fx.add(func() { c.applySession(seq, cl) })
	}
}

func (c *Cache) nextSessionSeqLocked() uint64 {
	c.sessionSeq++
	return c.sessionSeq
}

// applySession runs one storage callback unless a later one already ran.
// Sequence numbers are taken under c.mu, so storage ends up matching the
// last session write even when effects run out of order.
func (c *Cache) applySession(seq uint64, f func()) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if seq <= c.sessionApplied {
		return
	}
	c.sessionApplied = seq
	f()
}

// SignOut ends the session: the session key is written with nil (clearing
// storage) and every entry under prefixes is removed, with their in-flight
// fetches cancelled first. Both happen under one lock, so no fetch started
// before SignOut can repopulate the purged entries.
func (c *Cache) SignOut(prefixes ...Key) int {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	n, sessionRemoved := c.removeLocked(prefixes, &fx)
	if c.session != nil && !sessionRemoved {
		if e := c.entries[c.sessionID]; e != nil {
			c.writeLocked(e, nil, &fx)
		} else {
			c.clearSessionEffect(&fx)
		}
	}
	c.mu.Unlock()
	fx.run()

	c.log.Info("signed out", Fields{"removed": n})
	return n
}

// isNil also catches typed nils such as (*User)(nil) stored in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
