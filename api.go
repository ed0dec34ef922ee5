package qcache

import (
	"context"
	"time"

	gen "github.com/unkn0wn-root/qcache/genstore"
)

// FetchFunc loads the value for key. It must honor ctx: the cache cancels it
// when the fetch is superseded, its entry is removed or the cache closes.
// Even when it does not, a cancelled fetch's result is discarded.
type FetchFunc func(ctx context.Context, key Key) (any, error)

// Fetcher adapts a typed fetch function.
func Fetcher[V any](fn func(ctx context.Context, key Key) (V, error)) FetchFunc {
	return func(ctx context.Context, key Key) (any, error) {
		v, err := fn(ctx, key)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Policy is the freshness and refresh configuration of a resource class.
type Policy struct {
	// StaleAfter is how long after a successful fetch the value may be reused
	// without a network call. 0 means always stale.
	StaleAfter time.Duration
	// RetainFor is how long an entry without subscribers survives; 0 => 15m.
	RetainFor time.Duration
	// PollInterval refetches subscribed entries on a fixed period when > 0.
	PollInterval time.Duration

	RefetchOnMount     bool // stale (not absent) entries refetch when a subscriber arrives
	RefetchOnReconnect bool
	RefetchOnFocus     bool
}

// DefaultPolicy is used for resource classes without an explicit Policy.
func DefaultPolicy() Policy {
	return Policy{
		StaleAfter:     defaultStaleAfter,
		RetainFor:      defaultRetainFor,
		RefetchOnMount: true,
	}
}

// SessionOptions wires the "current session" key to persistent storage owned
// by a collaborator. The cache itself performs no I/O.
type SessionOptions struct {
	Key Key
	// Initial is called once by New to seed the session entry. ok=false => Absent.
	Initial func() (v any, ok bool)
	// Persist is called after every write of a non-nil value to Key. Persist
	// and Clear never run concurrently, and a call superseded by a later
	// session write is skipped.
	Persist func(v any)
	// Clear is called when Key is written with nil, removed or signed out.
	Clear func()
}

// Options tune the cache. Everything is optional.
type Options struct {
	DefaultPolicy Policy            // zero => DefaultPolicy()
	Policies      map[string]Policy // by resource class (Key.Class())

	Retry    RetryPolicy  // nil => NoRetry
	Logger   Logger       // nil => NopLogger
	Hooks    Hooks        // nil => NopHooks
	Notifier Notifier     // nil => NopNotifier
	GenStore gen.GenStore // nil => LocalGenStore (in-process)
	Session  *SessionOptions

	// Now overrides the clock used for freshness decisions (tests).
	Now func() time.Time
}

func (o Options) policyFor(class string) Policy {
	p, ok := o.Policies[class]
	if !ok {
		p = o.DefaultPolicy
		if p == (Policy{}) {
			p = DefaultPolicy()
		}
	}
	p.RetainFor = coalesce(p.RetainFor, defaultRetainFor)
	return p
}
