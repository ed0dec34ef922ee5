package qcache

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memSession is an in-memory stand-in for the persisted session.
type memSession struct {
	mu      sync.Mutex
	value   any
	has     bool
	saves   int
	clears  int
	initial int
}

func (m *memSession) options(k Key) *SessionOptions {
	return &SessionOptions{
		Key: k,
		Initial: func() (any, bool) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.initial++
			return m.value, m.has
		},
		Persist: func(v any) {
			m.mu.Lock()
			m.value, m.has = v, true
			m.saves++
			m.mu.Unlock()
		},
		Clear: func() {
			m.mu.Lock()
			m.value, m.has = nil, false
			m.clears++
			m.mu.Unlock()
		},
	}
}

func (m *memSession) initialCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initial
}

func (m *memSession) get() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.has
}

func TestSessionBootstrapFromStorage(t *testing.T) {
	ms := &memSession{value: profile{Name: "Ada"}, has: true}
	c := newTestCache(t, Options{Session: ms.options(K("user"))})

	v, ok := c.Read(K("user"))
	if !ok || v != (profile{Name: "Ada"}) {
		t.Fatalf("session not seeded: %v %v", v, ok)
	}
	st := mustState(t, c, K("user"))
	if st.Status != StatusSuccess || st.Stale {
		t.Fatalf("seeded value should count as freshly fetched: %+v", st)
	}
}

func TestSessionEmptyStorageStartsAbsent(t *testing.T) {
	ms := &memSession{}
	c := newTestCache(t, Options{Session: ms.options(K("user"))})
	if _, ok := c.Read(K("user")); ok {
		t.Fatalf("empty storage should leave the session Absent")
	}
	if ms.initial != 1 {
		t.Fatalf("Initial called %d times", ms.initial)
	}
}

func TestSessionWritesPersist(t *testing.T) {
	ms := &memSession{}
	c := newTestCache(t, Options{Session: ms.options(K("user"))})

	if err := c.Write(K("user"), profile{Name: "Grace"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if v, ok := ms.get(); !ok || v != (profile{Name: "Grace"}) {
		t.Fatalf("write not persisted: %v %v", v, ok)
	}

	// other keys are not persisted
	if err := c.Write(K("staff"), "x"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ms.saves != 1 {
		t.Fatalf("saves = %d", ms.saves)
	}

	// a fetched session value is persisted too
	if _, err := wait(t, c.Refetch(context.Background(), K("user"), constFetch(profile{Name: "Linus"}, nil))); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if v, _ := ms.get(); v != (profile{Name: "Linus"}) {
		t.Fatalf("fetched value not persisted: %v", v)
	}

	// writing nil ends the session
	var none *profile
	if err := c.Write(K("user"), none); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := ms.get(); ok || ms.clears != 1 {
		t.Fatalf("nil write should clear storage (clears=%d)", ms.clears)
	}
}

func TestSignOutPurgesAndClearsStorage(t *testing.T) {
	ms := &memSession{value: profile{Name: "Ada"}, has: true}
	c := newTestCache(t, Options{Session: ms.options(K("user"))})
	ctx := context.Background()

	g := newGatedFetch(func(int32) any { return "mine" })
	sub, err := c.Subscribe(ctx, K("appointments", "user", 1), g.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Write(K("appointments", "2024", "03"), "march"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Write(K("staff"), "kept"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if n := c.SignOut(K("appointments")); n != 2 {
		t.Fatalf("SignOut removed %d entries, want 2", n)
	}
	close(g.release)
	if _, err := sub.Await(ctx); err != ErrDetached {
		t.Fatalf("Await: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, ok := c.Read(K("appointments", "user", 1)); ok {
		t.Fatalf("in-flight fetch repopulated a purged entry")
	}
	if v, _ := c.Read(K("user")); v != nil {
		t.Fatalf("session value survived sign-out: %v", v)
	}
	if _, ok := c.Read(K("staff")); !ok {
		t.Fatalf("unrelated entry purged")
	}
	if _, ok := ms.get(); ok {
		t.Fatalf("storage not cleared")
	}
}

func TestSignOutRemovingSessionKey(t *testing.T) {
	ms := &memSession{value: profile{Name: "Ada"}, has: true}
	c := newTestCache(t, Options{Session: ms.options(K("user"))})

	if n := c.SignOut(K("user"), K("appointments")); n != 1 {
		t.Fatalf("SignOut removed %d", n)
	}
	if _, ok := ms.get(); ok || ms.clears != 1 {
		t.Fatalf("storage should be cleared exactly once (clears=%d)", ms.clears)
	}
}

func TestSessionGCKeepsStorage(t *testing.T) {
	ms := &memSession{value: profile{Name: "Ada"}, has: true}
	c := newTestCache(t, Options{
		Session:  ms.options(K("user")),
		Policies: map[string]Policy{"user": {StaleAfter: time.Hour, RetainFor: 20 * time.Millisecond}},
	})
	waitUntil(t, "session entry collected", func() bool { return c.Len() == 0 })
	if _, ok := ms.get(); !ok {
		t.Fatalf("collecting the entry must not end the session")
	}
	// the next use seeds it again
	v, err := c.Entry(K("user"))
	if err != nil || v.Value != (profile{Name: "Ada"}) {
		t.Fatalf("reseed: %+v %v", v, err)
	}
}

func TestSessionReseedUsesLastWriteWithoutStorage(t *testing.T) {
	ms := &memSession{value: profile{Name: "Ada"}, has: true}
	opts := ms.options(K("user"))
	load := opts.Initial
	opts.Initial = func() (any, bool) {
		if ms.initialCalls() > 0 {
			time.Sleep(300 * time.Millisecond)
		}
		return load()
	}
	c := newTestCache(t, Options{
		Session:  opts,
		Policies: map[string]Policy{"user": {StaleAfter: time.Hour, RetainFor: 20 * time.Millisecond}},
	})
	if err := c.Write(K("user"), profile{Name: "Grace"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Write(K("staff"), "kept"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitUntil(t, "session entry collected", func() bool { return c.Len() == 1 })

	done := make(chan State, 1)
	go func() {
		st, _ := c.Entry(K("user"))
		done <- st
	}()
	start := time.Now()
	if _, ok := c.Read(K("staff")); !ok {
		t.Fatalf("staff missing")
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("Read took %v while the session entry was recreated", d)
	}
	st := <-done
	if st.Value != (profile{Name: "Grace"}) {
		t.Fatalf("reseed = %+v, want last written value", st)
	}
	if n := ms.initialCalls(); n != 1 {
		t.Fatalf("Initial called %d times", n)
	}
}

// stallHooks parks the first write-cancellation until released, holding back
// the rest of that Write's post-unlock work.
type stallHooks struct {
	NopHooks
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *stallHooks) FetchDiscarded(_ string, reason string) {
	if reason != "write" {
		return
	}
	h.once.Do(func() {
		close(h.entered)
		<-h.release
	})
}

func TestSignOutWinsOverDelayedPersist(t *testing.T) {
	ms := &memSession{}
	h := &stallHooks{entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestCache(t, Options{Session: ms.options(K("user")), Hooks: h})

	g := newGatedFetch(func(int32) any { return profile{Name: "server"} })
	c.Refetch(context.Background(), K("user"), g.fn)

	written := make(chan error, 1)
	go func() { written <- c.Write(K("user"), profile{Name: "alice"}) }()
	<-h.entered

	c.SignOut(K("user"), K("appointments"))
	close(h.release)
	if err := <-written; err != nil {
		t.Fatalf("Write: %v", err)
	}

	if v, ok := ms.get(); ok {
		t.Fatalf("signed-out value reached storage: %v", v)
	}
	ms.mu.Lock()
	saves, clears := ms.saves, ms.clears
	ms.mu.Unlock()
	if saves != 0 || clears != 1 {
		t.Fatalf("saves=%d clears=%d, want 0 and 1", saves, clears)
	}
	if _, ok := c.Read(K("user")); ok {
		t.Fatalf("session entry survived sign-out")
	}
}

func TestSessionStorageFollowsLastWrite(t *testing.T) {
	ms := &memSession{}
	c := newTestCache(t, Options{Session: ms.options(K("user"))})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Write(K("user"), i)
		}(i)
	}
	wg.Wait()

	v, _ := c.Read(K("user"))
	if got, _ := ms.get(); got != v {
		t.Fatalf("storage holds %v, cache holds %v", got, v)
	}
}

func TestSessionKeyValidated(t *testing.T) {
	if _, err := New(Options{Session: &SessionOptions{Key: K()}}); err == nil {
		t.Fatalf("empty session key accepted")
	}
}
