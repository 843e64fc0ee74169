// Package cache is a small in-memory cache keyed by 32-byte protocol
// identifiers (pubkeys, event ids), backed by ristretto.
package cache

import (
	"encoding/binary"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache32 is the interface the pipeline consumes; the ristretto
// implementation below is the only one in tree.
type Cache32[V any] interface {
	Get(k [32]byte) (V, bool)
	Set(k [32]byte, v V) bool
	SetWithTTL(k [32]byte, v V, d time.Duration) bool
	Delete(k [32]byte)
}

type RistrettoCache[V any] struct {
	cache *ristretto.Cache[uint64, V]
}

func New[V any](max int64) *RistrettoCache[V] {
	cache, _ := ristretto.NewCache(&ristretto.Config[uint64, V]{
		NumCounters: max * 10,
		MaxCost:     max,
		BufferItems: 64,
		KeyToHash:   func(key uint64) (uint64, uint64) { return key, 0 },
	})
	return &RistrettoCache[V]{cache: cache}
}

func (s *RistrettoCache[V]) Get(k [32]byte) (v V, ok bool) {
	return s.cache.Get(binary.BigEndian.Uint64(k[32-8:]))
}

func (s *RistrettoCache[V]) Set(k [32]byte, v V) bool {
	return s.cache.Set(binary.BigEndian.Uint64(k[32-8:]), v, 1)
}

func (s *RistrettoCache[V]) SetWithTTL(k [32]byte, v V, d time.Duration) bool {
	return s.cache.SetWithTTL(binary.BigEndian.Uint64(k[32-8:]), v, 1, d)
}

func (s *RistrettoCache[V]) Delete(k [32]byte) {
	s.cache.Del(binary.BigEndian.Uint64(k[32-8:]))
}
