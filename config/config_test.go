package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/qcache"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, qcache.DefaultPolicy(), cfg.DefaultPolicy())
	require.Empty(t, cfg.Policies())
	require.Equal(t, qcache.NoRetry{}, cfg.RetryPolicy())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"QCACHE_STALE_AFTER":        "1m",
		"QCACHE_REFETCH_ON_MOUNT":   "false",
		"QCACHE_CLASS_STALE_AFTER":  "appointments:0s,staff:1h",
		"QCACHE_CLASS_RETAIN_FOR":   "appointments:500s",
		"QCACHE_CLASS_POLL":         "appointments:60s",
		"QCACHE_LIVE_CLASSES":       "appointments",
		"QCACHE_RETRY_MAX_ATTEMPTS": "3",
		"QCACHE_RETRY_MAX_INTERVAL": "2s",
		"UNRELATED_STALE_AFTER":     "garbage",
	})
	require.NoError(t, err)

	def := cfg.DefaultPolicy()
	require.Equal(t, time.Minute, def.StaleAfter)
	require.False(t, def.RefetchOnMount)

	pol := cfg.Policies()
	require.Len(t, pol, 2)
	appt := pol["appointments"]
	require.Equal(t, time.Duration(0), appt.StaleAfter)
	require.Equal(t, 500*time.Second, appt.RetainFor)
	require.Equal(t, 60*time.Second, appt.PollInterval)
	require.True(t, appt.RefetchOnReconnect)
	require.True(t, appt.RefetchOnFocus)
	require.Equal(t, time.Hour, pol["staff"].StaleAfter)
	require.Equal(t, 15*time.Minute, pol["staff"].RetainFor)

	rp, ok := cfg.RetryPolicy().(qcache.ExponentialRetry)
	require.True(t, ok)
	require.Equal(t, 3, rp.MaxAttempts)
	require.Equal(t, 2*time.Second, rp.MaxInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"negative stale": {"QCACHE_STALE_AFTER": "-1s"},
		"bad duration":   {"QCACHE_RETAIN_FOR": "soon"},
		"negative class": {"QCACHE_CLASS_POLL": "appointments:-5s"},
		"zero attempts":  {"QCACHE_RETRY_MAX_ATTEMPTS": "0"},
		"malformed map":  {"QCACHE_CLASS_POLL": "appointments"},
	} {
		_, err := LoadFrom(environ)
		require.Error(t, err, name)
	}
}

func TestApplyKeepsOtherOptions(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"QCACHE_CLASS_POLL": "appointments:30s"})
	require.NoError(t, err)

	n := qcache.NopNotifier{}
	opts := cfg.Apply(qcache.Options{
		Notifier: n,
		Policies: map[string]qcache.Policy{"user": {StaleAfter: time.Hour}},
	})
	require.Equal(t, n, opts.Notifier)
	require.Equal(t, time.Hour, opts.Policies["user"].StaleAfter)
	require.Equal(t, 30*time.Second, opts.Policies["appointments"].PollInterval)

	c, err := qcache.New(opts)
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))
}
