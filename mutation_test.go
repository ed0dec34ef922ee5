package qcache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type profile struct {
	Name string
}

func patchProfile(do func(context.Context, profile) (profile, error)) Mutation[profile, profile] {
	return Mutation[profile, profile]{
		Name:    "patch_user",
		Do:      do,
		Affects: func(profile) []Key { return []Key{K("user")} },
		Optimistic: func(_ Key, _ any, _ bool, in profile) (any, bool) {
			return in, true
		},
		Apply: func(_ Key, out profile, _ profile) (any, bool) {
			return out, true
		},
		SuccessMessage: func(profile, profile) string { return "User updated!" },
	}
}

// A conflicting update is shown immediately and rolled back when the server
// refuses it.
func TestMutationRollsBackOnServerError(t *testing.T) {
	rn := &recNotifier{}
	h := newRecHooks()
	c := newTestCache(t, Options{Notifier: rn, Hooks: h})
	if err := c.Write(K("user"), profile{Name: "A"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var result error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, result = Mutate(context.Background(), c, patchProfile(func(context.Context, profile) (profile, error) {
			close(started)
			<-release
			return profile{}, &ServerError{Message: "conflict"}
		}), profile{Name: "B"})
	}()

	<-started
	if v, _ := c.Read(K("user")); v != (profile{Name: "B"}) {
		t.Fatalf("optimistic value not visible during the call: %v", v)
	}
	close(release)
	<-done

	var me *MutationError
	if !errors.As(result, &me) || me.RolledBack != 1 || me.Mutation != "patch_user" || me.ID == "" {
		t.Fatalf("want MutationError, got %#v", result)
	}
	var se *ServerError
	if !errors.As(result, &se) || se.Message != "conflict" {
		t.Fatalf("cause lost: %v", result)
	}
	if v, _ := c.Read(K("user")); v != (profile{Name: "A"}) {
		t.Fatalf("want A after rollback, got %v", v)
	}

	rb := rn.kind(NotifyRollback)
	if len(rb) != 1 || !strings.Contains(rb[0].Message, "conflict") || rb[0].MutationID != me.ID || !rb[0].Key.Equal(K("user")) {
		t.Fatalf("rollback notifications: %+v", rn.all())
	}
	if len(rn.kind(NotifySuccess)) != 0 {
		t.Fatalf("failed mutation emitted success")
	}
	if h.snapshot().rollbacks != 1 {
		t.Fatalf("rollback hook not fired")
	}
}

func TestMutationReconcilesOnSuccess(t *testing.T) {
	rn := &recNotifier{}
	c := newTestCache(t, Options{Notifier: rn})
	if err := c.Write(K("user"), profile{Name: "A"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out, err := Mutate(context.Background(), c, patchProfile(func(_ context.Context, in profile) (profile, error) {
		return profile{Name: strings.ToUpper(in.Name)}, nil
	}), profile{Name: "b"})
	if err != nil || out.Name != "B" {
		t.Fatalf("Mutate: %v %+v", err, out)
	}
	if v, _ := c.Read(K("user")); v != (profile{Name: "B"}) {
		t.Fatalf("server value should replace the optimistic one, got %v", v)
	}
	ok := rn.kind(NotifySuccess)
	if len(ok) != 1 || ok[0].Message != "User updated!" || ok[0].MutationID == "" {
		t.Fatalf("success notifications: %+v", rn.all())
	}
}

// A fetch that started before the mutation must not overwrite the optimistic
// or reconciled value when it lands afterwards.
func TestMutationCancelsStaleFetch(t *testing.T) {
	c := newTestCache(t, Options{Policies: map[string]Policy{"user": {StaleAfter: 0}}})
	if err := c.Write(K("user"), profile{Name: "A"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	g := newGatedFetch(func(int32) any { return profile{Name: "stale"} })
	r := c.Fetch(context.Background(), K("user"), g.fn)
	waitUntil(t, "fetch started", func() bool { return g.calls.Load() == 1 })

	m := patchProfile(func(_ context.Context, in profile) (profile, error) { return in, nil })
	m.Invalidates = func(profile) []Key { return nil }
	if _, err := Mutate(context.Background(), c, m, profile{Name: "B"}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if _, err := wait(t, r); !errors.Is(err, ErrCancelled) {
		t.Fatalf("pre-mutation fetch should be cancelled, got %v", err)
	}
	close(g.release)
	time.Sleep(10 * time.Millisecond)
	if v, _ := c.Read(K("user")); v != (profile{Name: "B"}) {
		t.Fatalf("stale fetch landed: %v", v)
	}
}

func TestMutationRollbackOfAbsentEntryClearsIt(t *testing.T) {
	rn := &recNotifier{}
	c := newTestCache(t, Options{Notifier: rn})
	k := K("appointments", "2024", "03")
	if _, err := c.Entry(k); err != nil { // known but Absent
		t.Fatalf("Entry: %v", err)
	}

	_, err := Mutate(context.Background(), c, Mutation[string, struct{}]{
		Name: "reserve",
		Do: func(context.Context, string) (struct{}, error) {
			return struct{}{}, errors.New("refused")
		},
		Affects: func(string) []Key { return []Key{K("appointments")} },
		Optimistic: func(_ Key, _ any, hasPrev bool, in string) (any, bool) {
			return in, !hasPrev
		},
		Invalidates: func(string) []Key { return nil },
	}, "reserved")
	var me *MutationError
	if !errors.As(err, &me) || me.RolledBack != 1 {
		t.Fatalf("want 1 entry rolled back, got %v", err)
	}
	if st := mustState(t, c, k); st.HasValue || st.Status != StatusIdle {
		t.Fatalf("entry should be Absent again, got %+v", st)
	}
	if len(rn.kind(NotifyRollback)) != 1 {
		t.Fatalf("notifications: %+v", rn.all())
	}
}

func TestMutationWithoutOptimisticWritesNotifiesError(t *testing.T) {
	rn := &recNotifier{}
	c := newTestCache(t, Options{Notifier: rn})

	_, err := Mutate(context.Background(), c, Mutation[int, int]{
		Name:    "cancel_appointment",
		Do:      func(context.Context, int) (int, error) { return 0, &ServerError{Status: 400, Message: "too late"} },
		Affects: func(int) []Key { return []Key{K("appointments")} },
	}, 7)
	var me *MutationError
	if !errors.As(err, &me) || me.RolledBack != 0 {
		t.Fatalf("Mutate: %v", err)
	}
	errs := rn.kind(NotifyError)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "too late") {
		t.Fatalf("notifications: %+v", rn.all())
	}
	if len(rn.kind(NotifyRollback)) != 0 {
		t.Fatalf("nothing was restored, no rollback expected")
	}
}

func TestMutationNeverCreatesEntries(t *testing.T) {
	c := newTestCache(t, Options{})
	if _, err := Mutate(context.Background(), c, patchProfile(func(_ context.Context, in profile) (profile, error) {
		return in, nil
	}), profile{Name: "B"}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("mutation created %d entries", c.Len())
	}
}

func TestMutationSettleInvalidatesAndRefetches(t *testing.T) {
	c := newTestCache(t, Options{})
	k := K("appointments", "2024", "03")
	var calls atomic.Int32
	sub, err := c.Subscribe(context.Background(), k, constFetch("month", &calls))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if _, err := sub.Await(context.Background()); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if err := c.Write(K("appointments", "user", 1), "mine"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err = Mutate(context.Background(), c, Mutation[int, int]{
		Name:        "cancel_appointment",
		Do:          func(_ context.Context, id int) (int, error) { return id, nil },
		Invalidates: func(int) []Key { return []Key{K("appointments")} },
	}, 7)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if _, err := sub.Await(context.Background()); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("subscribed month should refetch after settle, got %d fetches", calls.Load())
	}
	if !mustState(t, c, K("appointments", "user", 1)).Stale {
		t.Fatalf("unsubscribed entry should be marked stale")
	}
}

func TestMutationPreconditions(t *testing.T) {
	c := newTestCache(t, Options{})
	if err := c.Write(K("user"), profile{Name: "A"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := Mutate(context.Background(), c, Mutation[profile, profile]{Name: "noop"}, profile{})
	if !errors.Is(err, ErrNoFetchFunc) {
		t.Fatalf("nil Do: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var called bool
	_, err = Mutate(ctx, c, patchProfile(func(context.Context, profile) (profile, error) {
		called = true
		return profile{}, nil
	}), profile{Name: "B"})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("cancelled ctx: err=%v called=%v", err, called)
	}
	if v, _ := c.Read(K("user")); v != (profile{Name: "A"}) {
		t.Fatalf("aborted mutation touched the cache: %v", v)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = Mutate(context.Background(), c, patchProfile(func(_ context.Context, in profile) (profile, error) {
		return in, nil
	}), profile{Name: "B"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("closed cache: %v", err)
	}
}

func TestMutationStageString(t *testing.T) {
	for s, want := range map[MutationStage]string{
		MutationPending:        "pending",
		MutationMutating:       "mutating",
		MutationSettledSuccess: "settled_success",
		MutationSettledError:   "settled_error",
		MutationDone:           "done",
		MutationStage(99):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
