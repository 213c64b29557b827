package cache

import "expvar"

// Interface defines the public API for a string keyed cache.
type Interface[V any] interface {
	Put(key string, value V)
	Get(key string) (value V, ok bool)
	Remove(key string) bool
	Clear()
	GetHitRate() float64
	SetMetrics(hits, misses *expvar.Int)
	Len() int
}
