package stream

import "container/list"

// BoundedCache is an insertion-ordered map bounded to Max entries. When Set
// would grow the cache past Max, the oldest entry is evicted first (FIFO).
//
// Pop and PopMatch are deliberately asymmetric, matching the Python
// implementation this spec was distilled from (see spec.md §9 Open
// Questions): Pop() with no predicate removes the oldest entry (FIFO-evict);
// PopMatch(pred) removes the most recently inserted entry satisfying pred
// (LIFO-match). Do not "fix" this into a single consistent order — tests
// depend on the asymmetry.
type BoundedCache[K comparable, V any] struct {
	Max   int
	order *list.List // front = oldest, back = newest
	elems map[K]*list.Element
}

type cacheEntry[K comparable, V any] struct {
	key K
	val V
}

// NewBoundedCache creates a cache that holds at most max entries.
func NewBoundedCache[K comparable, V any](max int) *BoundedCache[K, V] {
	return &BoundedCache[K, V]{
		Max:   max,
		order: list.New(),
		elems: make(map[K]*list.Element),
	}
}

// Set inserts or overwrites key with val. If key is new and the cache is at
// capacity, the oldest entry is evicted first.
func (c *BoundedCache[K, V]) Set(key K, val V) {
	if el, ok := c.elems[key]; ok {
		el.Value.(*cacheEntry[K, V]).val = val
		c.order.MoveToBack(el)
		return
	}
	if c.Max > 0 && len(c.elems) >= c.Max {
		c.evictOldest()
	}
	el := c.order.PushBack(&cacheEntry[K, V]{key: key, val: val})
	c.elems[key] = el
}

func (c *BoundedCache[K, V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.elems, front.Value.(*cacheEntry[K, V]).key)
}

// Get returns the value for key and whether it was present.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	if el, ok := c.elems[key]; ok {
		return el.Value.(*cacheEntry[K, V]).val, true
	}
	var zero V
	return zero, false
}

// Len returns the number of entries currently held.
func (c *BoundedCache[K, V]) Len() int { return len(c.elems) }

// Pop removes and returns the oldest entry (FIFO-evict). ok is false if the
// cache is empty.
func (c *BoundedCache[K, V]) Pop() (V, bool) {
	front := c.order.Front()
	if front == nil {
		var zero V
		return zero, false
	}
	entry := front.Value.(*cacheEntry[K, V])
	c.order.Remove(front)
	delete(c.elems, entry.key)
	return entry.val, true
}

// PopMatch removes and returns the most recently inserted entry for which
// pred returns true (LIFO-match), scanning from newest to oldest. ok is
// false if no entry matches.
func (c *BoundedCache[K, V]) PopMatch(pred func(V) bool) (V, bool) {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*cacheEntry[K, V])
		if pred(entry.val) {
			c.order.Remove(el)
			delete(c.elems, entry.key)
			return entry.val, true
		}
	}
	var zero V
	return zero, false
}

// Values returns all entries oldest-first. Intended for tests/inspection,
// not hot paths.
func (c *BoundedCache[K, V]) Values() []V {
	out := make([]V, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheEntry[K, V]).val)
	}
	return out
}

// SetOrUpdate creates a new entry via factory() when key is absent, or
// leaves the existing entry in place when key is present — factory is never
// invoked in that case. apply is then called against the (possibly
// newly-created) value to merge in partial field updates; apply should treat
// its own notion of "unset" fields as no-ops, matching the spec's
// "partial updates with undefined values are ignored".
func (c *BoundedCache[K, V]) SetOrUpdate(key K, factory func() V, apply func(cur V) V) V {
	if el, ok := c.elems[key]; ok {
		entry := el.Value.(*cacheEntry[K, V])
		entry.val = apply(entry.val)
		c.order.MoveToBack(el)
		return entry.val
	}
	val := factory()
	val = apply(val)
	if c.Max > 0 && len(c.elems) >= c.Max {
		c.evictOldest()
	}
	el := c.order.PushBack(&cacheEntry[K, V]{key: key, val: val})
	c.elems[key] = el
	return val
}
