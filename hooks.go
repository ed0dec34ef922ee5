package qcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking and must not call back into
// the Cache. Keys are passed in their canonical string form.
type Hooks interface {
	// A fetch joined the request already in flight for its key.
	FetchDeduplicated(key string)

	// A fetch result was thrown away instead of being written.
	// reason ∈ {"superseded", "cancelled", "write", "removed", "mutation", "closed", "stale_generation"}
	FetchDiscarded(key string, reason string)

	// A fetch settled with an error after attempts tries.
	FetchFailed(key string, attempts int, err error)

	// An entry left the cache.
	// reason ∈ {"gc", "removed"}
	Evicted(key string, reason string)

	// A mutation failed and restored restored entries from its snapshot.
	MutationRolledBack(name string, restored int, err error)

	// GenStore errors (snapshot or bump).
	GenStoreError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchDeduplicated(string)              {}
func (NopHooks) FetchDiscarded(string, string)         {}
func (NopHooks) FetchFailed(string, int, error)        {}
func (NopHooks) Evicted(string, string)                {}
func (NopHooks) MutationRolledBack(string, int, error) {}
func (NopHooks) GenStoreError(string, error)           {}
