package registry

import "sync"

// numBuckets bounds lock contention between unrelated handles/principals
// without the complexity of a resizable concurrent map; spec.md §4.8
// only requires per-bucket locking, not a specific bucket count.
const numBuckets = 16

type bucket[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// stripedMap is the registry's concurrent map: a fixed set of
// independently locked buckets selected by a caller-supplied hash.
// Operations never hold two bucket locks at once, which is the
// invariant spec.md §5 requires of the registry's shared state.
type stripedMap[K comparable, V any] struct {
	buckets [numBuckets]*bucket[K, V]
	hash    func(K) uint32
}

func newStripedMap[K comparable, V any](hash func(K) uint32) *stripedMap[K, V] {
	s := &stripedMap[K, V]{hash: hash}
	for i := range s.buckets {
		s.buckets[i] = &bucket[K, V]{m: make(map[K]V)}
	}
	return s
}

func (s *stripedMap[K, V]) bucketFor(k K) *bucket[K, V] {
	return s.buckets[s.hash(k)%numBuckets]
}

func (s *stripedMap[K, V]) Get(k K) (V, bool) {
	b := s.bucketFor(k)
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[k]
	return v, ok
}

func (s *stripedMap[K, V]) Set(k K, v V) {
	b := s.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[k] = v
}

// GetOrCreate atomically returns the existing value for k or inserts
// and returns a freshly created one, holding the bucket lock for the
// whole check-then-act sequence.
func (s *stripedMap[K, V]) GetOrCreate(k K, create func() V) V {
	b := s.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.m[k]; ok {
		return v
	}
	v := create()
	b.m[k] = v
	return v
}

func (s *stripedMap[K, V]) Delete(k K) {
	b := s.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, k)
}

// Keys snapshots every key across every bucket. Each bucket is locked
// only for the duration of its own copy, never two at once, so this
// never blocks an unrelated bucket's writer for long and is safe to
// call without holding any lock across the caller's subsequent work.
func (s *stripedMap[K, V]) Keys() []K {
	var keys []K
	for _, b := range s.buckets {
		b.mu.RLock()
		for k := range b.m {
			keys = append(keys, k)
		}
		b.mu.RUnlock()
	}
	return keys
}
