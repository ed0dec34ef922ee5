// Package sloghooks logs cache hook events with log/slog. Keys are redacted
// by default: user-scoped keys may carry ids.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/qcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DedupEvery   uint64
	DiscardEvery uint64
	EvictEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	dedupCtr   atomic.Uint64
	discardCtr atomic.Uint64
	evictCtr   atomic.Uint64
}

var _ qcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchDeduplicated(key string) {
	if h.l == nil || !sample(h.opts.DedupEvery, &h.dedupCtr) {
		return
	}
	h.l.Debug("qcache.fetch_deduplicated",
		"key", h.redact(key))
}

func (h *Hooks) FetchDiscarded(key, reason string) {
	if h.l == nil || !sample(h.opts.DiscardEvery, &h.discardCtr) {
		return
	}
	h.l.Debug("qcache.fetch_discarded",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) FetchFailed(key string, attempts int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("qcache.fetch_failed",
		"key", h.redact(key),
		"attempts", attempts,
		"err", err)
}

func (h *Hooks) Evicted(key, reason string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("qcache.evicted",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) MutationRolledBack(name string, restored int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("qcache.mutation_rolled_back",
		"mutation", name,
		"restored", restored,
		"err", err)
}

func (h *Hooks) GenStoreError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("qcache.gen_store_error",
		"key", h.redact(key),
		"err", err)
}
