// Package qcache implements an in-process query cache for server-derived data.
// Independent consumers share one entry per key; the cache decides when the
// network is needed, deduplicates concurrent fetches and never lets a
// superseded fetch overwrite newer data.
//
// Components:
//   - Key: ordered primitive parts, the first being the resource class.
//     Invalidate and Remove operate on key prefixes.
//   - Fetch coordinator: one in-flight fetch per key, fresh values served from
//     memory, per-key generations (genstore.GenStore) checked before commit.
//   - Scheduler: mount trigger, polling of live classes, reconnect/focus
//     revalidation and prefetch.
//   - Mutate: optimistic write, snapshot, rollback on error, authoritative
//     write on success, invalidation once settled.
//   - Garbage collection of entries without subscribers after RetainFor.
//
// Flow:
//
//	sub, _ := cache.Subscribe(ctx, qcache.K("appointments", 2024, 3), fetchMonth)
//	defer sub.Unsubscribe()
//	for range sub.Changes() {
//		st := sub.State() // Value, Status, Err, Stale ...
//	}
//
// The session key (Options.Session) is seeded from and mirrored to storage
// owned by a collaborator; see package persist.
package qcache
