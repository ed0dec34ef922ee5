// Package persist stores the cache's session value (the signed-in user) in a
// provider.Provider so the next process start can bootstrap it.
//
// Wire it through qcache.Options.Session:
//
//	st, _ := persist.New(persist.Options[booking.User]{
//		Provider: prov,
//		Codec:    codec.JSON[booking.User]{},
//		Key:      booking.UserKey(),
//	})
//	cache, _ := qcache.New(qcache.Options{Session: st.Session()})
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/qcache"
	"github.com/unkn0wn-root/qcache/codec"
	"github.com/unkn0wn-root/qcache/internal/wire"
	pr "github.com/unkn0wn-root/qcache/provider"
)

const (
	defaultIOTimeout  = 2 * time.Second
	defaultMaxPayload = 1 << 20
)

type Options[V any] struct {
	Provider pr.Provider    // required
	Codec    codec.Codec[V] // required
	Key      qcache.Key     // required; the cache's session key

	// StorageKey is the provider key; "" => "qcache:session:" + Key.String().
	StorageKey string
	TTL        time.Duration // <= 0 => no expiry (provider permitting)
	MaxPayload int           // decode limit in bytes; 0 => 1 MiB, < 0 => unlimited
	IOTimeout  time.Duration // per provider call from the cache callbacks; 0 => 2s
	Logger     qcache.Logger
	Now        func() time.Time
}

// Store reads and writes one session value.
type Store[V any] struct {
	provider   pr.Provider
	codec      codec.Codec[V]
	key        qcache.Key
	storageKey string
	cacheKey   string
	ttl        time.Duration
	timeout    time.Duration
	log        qcache.Logger
	now        func() time.Time
}

func New[V any](opts Options[V]) (*Store[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("persist: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("persist: codec is required")
	}
	if err := opts.Key.Validate(); err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}

	s := &Store[V]{
		provider: opts.Provider,
		key:      opts.Key.Clone(),
		cacheKey: opts.Key.String(),
		ttl:      opts.TTL,
		timeout:  opts.IOTimeout,
		log:      opts.Logger,
		now:      opts.Now,
	}
	s.storageKey = opts.StorageKey
	if s.storageKey == "" {
		s.storageKey = "qcache:session:" + s.cacheKey
	}

	s.codec = opts.Codec
	switch {
	case opts.MaxPayload == 0:
		s.codec = codec.Limit[V]{Inner: opts.Codec, MaxDecode: defaultMaxPayload}
	case opts.MaxPayload > 0:
		s.codec = codec.Limit[V]{Inner: opts.Codec, MaxDecode: opts.MaxPayload}
	}

	if s.timeout <= 0 {
		s.timeout = defaultIOTimeout
	}
	if s.log == nil {
		s.log = qcache.NopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Load returns the persisted value. Corrupt records, records written for a
// different key and undecodable payloads are deleted and reported as a miss.
func (s *Store[V]) Load(ctx context.Context) (V, bool, error) {
	var zero V
	raw, ok, err := s.provider.Get(ctx, s.storageKey)
	if err != nil || !ok {
		return zero, false, err
	}
	rec, err := wire.DecodeSession(raw)
	if err != nil || rec.Key != s.cacheKey {
		s.log.Warn("persisted session dropped", qcache.Fields{"key": s.storageKey, "err": err})
		_ = s.provider.Del(ctx, s.storageKey) // self-heal
		return zero, false, nil
	}
	v, err := s.codec.Decode(rec.Payload)
	if err != nil {
		s.log.Warn("persisted session undecodable", qcache.Fields{"key": s.storageKey, "err": err})
		_ = s.provider.Del(ctx, s.storageKey) // self-heal
		return zero, false, nil
	}
	return v, true, nil
}

func (s *Store[V]) Save(ctx context.Context, v V) error {
	payload, err := s.codec.Encode(v)
	if err != nil {
		return err
	}
	b := wire.EncodeSession(wire.Session{Key: s.cacheKey, SavedAt: s.now(), Payload: payload})
	ok, err := s.provider.Set(ctx, s.storageKey, b, s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("session save rejected by provider (pressure)", qcache.Fields{"key": s.storageKey})
	}
	return nil
}

func (s *Store[V]) Clear(ctx context.Context) error {
	return s.provider.Del(ctx, s.storageKey)
}

// Session returns the callbacks the cache uses to seed, persist and clear the
// session key. Storage errors are logged, never surfaced to cache callers.
func (s *Store[V]) Session() *qcache.SessionOptions {
	return &qcache.SessionOptions{
		Key:     s.key.Clone(),
		Initial: s.initial,
		Persist: s.persist,
		Clear:   s.clear,
	}
}

func (s *Store[V]) initial() (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, ok, err := s.Load(ctx)
	if err != nil {
		s.log.Error("session load failed", qcache.Fields{"key": s.storageKey, "err": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return v, true
}

func (s *Store[V]) persist(v any) {
	tv, ok := v.(V)
	if !ok {
		s.log.Warn("session value has unexpected type", qcache.Fields{"key": s.storageKey, "type": fmt.Sprintf("%T", v)})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Save(ctx, tv); err != nil {
		s.log.Error("session save failed", qcache.Fields{"key": s.storageKey, "err": err})
	}
}

func (s *Store[V]) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Clear(ctx); err != nil {
		s.log.Error("session clear failed", qcache.Fields{"key": s.storageKey, "err": err})
	}
}
