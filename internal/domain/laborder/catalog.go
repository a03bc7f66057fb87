package laborder

import "sort"

// Keyed is an entity addressable by a numeric id.
type Keyed interface {
	Key() int64
}

// Catalog is an in-memory read-only snapshot of active reference entities.
type Catalog[T Keyed] struct {
	items []T
	index map[int64]int
}

// NewCatalog indexes items by key; on duplicate keys the first one wins.
func NewCatalog[T Keyed](items []T) *Catalog[T] {
	c := &Catalog[T]{
		items: items,
		index: make(map[int64]int, len(items)),
	}
	for i, it := range items {
		if _, dup := c.index[it.Key()]; !dup {
			c.index[it.Key()] = i
		}
	}
	return c
}

func (c *Catalog[T]) Has(key int64) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[key]
	return ok
}

// Find returns the entity for key.
func (c *Catalog[T]) Find(key int64) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	i, ok := c.index[key]
	if !ok {
		return zero, false
	}
	return c.items[i], true
}

func (c *Catalog[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.index)
}

// Keys returns the catalog keys in ascending order.
func (c *Catalog[T]) Keys() []int64 {
	if c == nil {
		return nil
	}
	keys := make([]int64, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
