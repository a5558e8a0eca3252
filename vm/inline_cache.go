package vm

// Method cache for dispatch.
//
// Results of Resolve are memoized per (receiver class, method name) pair,
// including misses. Any change to a method table or to an ancestor chain
// flushes the whole cache.

type cacheKey struct {
	class *RClass
	mid   Symbol
}

type cacheEntry struct {
	method Method
	owner  *RClass
}

// MethodCache memoizes Resolve results.
type MethodCache struct {
	entries map[cacheKey]cacheEntry

	// Statistics for profiling
	Hits    uint64
	Misses  uint64
	Flushes uint64
}

func newMethodCache() *MethodCache {
	return &MethodCache{entries: make(map[cacheKey]cacheEntry, 256)}
}

func (mc *MethodCache) lookup(class *RClass, mid Symbol) (cacheEntry, bool) {
	e, ok := mc.entries[cacheKey{class, mid}]
	if ok {
		mc.Hits++
	} else {
		mc.Misses++
	}
	return e, ok
}

func (mc *MethodCache) update(class *RClass, mid Symbol, m Method, owner *RClass) {
	mc.entries[cacheKey{class, mid}] = cacheEntry{method: m, owner: owner}
}

func (mc *MethodCache) flush() {
	if len(mc.entries) == 0 {
		return
	}
	clear(mc.entries)
	mc.Flushes++
}

// Len returns the number of cached lookups.
func (mc *MethodCache) Len() int { return len(mc.entries) }
