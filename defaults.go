package qcache

import "time"

const (
	defaultStaleAfter   = 10 * time.Minute
	defaultRetainFor    = 15 * time.Minute
	defaultGenSweep     = time.Hour
	defaultGenRetention = 24 * time.Hour
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
