package qcache

import "time"

// scheduleGCLocked (re)arms the retention timer of an entry nobody subscribes
// to, so it is retained for RetainFor after its last use.
func (c *Cache) scheduleGCLocked(e *entry) {
	if c.closed || len(e.subs) > 0 {
		return
	}
	c.cancelGCLocked(e)
	seq := e.gcSeq
	e.gcTimer = time.AfterFunc(e.policy.RetainFor, func() { c.collect(e, seq) })
}

func (c *Cache) cancelGCLocked(e *entry) {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	// a timer that already fired must not act on a newer schedule
	e.gcSeq++
}

func (c *Cache) collect(e *entry, seq uint64) {
	var fx effects
	c.mu.Lock()
	if c.closed || c.entries[e.id] != e || e.gcSeq != seq || len(e.subs) > 0 {
		c.mu.Unlock()
		return
	}
	e.gcTimer = nil
	c.dropLocked(e, "gc", &fx)
	c.mu.Unlock()
	fx.run()

	c.log.Debug("entry evicted", Fields{"key": e.id, "retained": e.policy.RetainFor.String()})
}
