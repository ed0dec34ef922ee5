// Package promhooks exports cache hook events as Prometheus counters.
//
//	h, _ := promhooks.New(promhooks.Config{Registerer: prometheus.DefaultRegisterer, CacheName: "booking"})
//	cache, _ := qcache.New(qcache.Options{Hooks: h})
//
// Counters are labelled by resource class (the first key part), never by the
// full key.
package promhooks

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/qcache"
)

type Config struct {
	Registerer prometheus.Registerer // nil => prometheus.DefaultRegisterer
	Namespace  string                // "" => "qcache"
	CacheName  string                // constant "cache" label
}

type Hooks struct {
	dedup     *prometheus.CounterVec
	discarded *prometheus.CounterVec
	failed    *prometheus.CounterVec
	evicted   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	genErrors prometheus.Counter
}

var _ qcache.Hooks = (*Hooks)(nil)

func New(cfg Config) (*Hooks, error) {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "qcache"
	}
	var constLabels prometheus.Labels
	if cfg.CacheName != "" {
		constLabels = prometheus.Labels{"cache": cfg.CacheName}
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}

	h := &Hooks{
		dedup:     counter("fetch_deduplicated_total", "Fetches joined onto a request already in flight.", "class"),
		discarded: counter("fetch_discarded_total", "Fetch results thrown away instead of written.", "class", "reason"),
		failed:    counter("fetch_failed_total", "Fetches settled with an error.", "class"),
		evicted:   counter("evictions_total", "Entries removed from the cache.", "class", "reason"),
		rollbacks: counter("mutation_rollbacks_total", "Failed mutations rolled back.", "mutation"),
		genErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "genstore_errors_total",
			Help:        "Generation store snapshot or bump failures.",
			ConstLabels: constLabels,
		}),
	}
	for _, c := range []prometheus.Collector{h.dedup, h.discarded, h.failed, h.evicted, h.rollbacks, h.genErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) FetchDeduplicated(key string) { h.dedup.WithLabelValues(classOf(key)).Inc() }
func (h *Hooks) FetchDiscarded(key, reason string) {
	h.discarded.WithLabelValues(classOf(key), reason).Inc()
}
func (h *Hooks) FetchFailed(key string, _ int, _ error) { h.failed.WithLabelValues(classOf(key)).Inc() }
func (h *Hooks) Evicted(key, reason string)             { h.evicted.WithLabelValues(classOf(key), reason).Inc() }
func (h *Hooks) MutationRolledBack(name string, _ int, _ error) {
	h.rollbacks.WithLabelValues(name).Inc()
}
func (h *Hooks) GenStoreError(string, error) { h.genErrors.Inc() }

// classOf extracts the resource class from a canonical key such as
// `s"appointments",n2024,n3`.
func classOf(key string) string {
	first, _, _ := strings.Cut(key, ",")
	if s, ok := strings.CutPrefix(first, "s"); ok {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return "other"
}
