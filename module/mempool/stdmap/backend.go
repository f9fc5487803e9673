package stdmap

import (
	"sync"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/mempool"
)

// backend implements a generic memory pool backed by a Go map.
type backend[V flow.Entity] struct {
	sync.RWMutex
	entities map[flow.Identifier]V
}

var _ mempool.Mempool[flow.Identifier, flow.Entity] = (*backend[flow.Entity])(nil)

// newBackend creates a new memory pool backend.
func newBackend[V flow.Entity]() *backend[V] {
	return &backend[V]{
		entities: make(map[flow.Identifier]V),
	}
}

// Has checks if we already contain the item with the given hash.
func (b *backend[V]) Has(id flow.Identifier) bool {
	b.RLock()
	defer b.RUnlock()
	_, ok := b.entities[id]
	return ok
}

// Add adds the given item to the pool.
func (b *backend[V]) Add(id flow.Identifier, entity V) bool {
	b.Lock()
	defer b.Unlock()
	if _, ok := b.entities[id]; ok {
		return false
	}
	b.entities[id] = entity
	return true
}

// Remove will remove the item with the given hash.
func (b *backend[V]) Remove(id flow.Identifier) bool {
	b.Lock()
	defer b.Unlock()
	if _, ok := b.entities[id]; !ok {
		return false
	}
	delete(b.entities, id)
	return true
}

// Get returns the given item from the pool.
func (b *backend[V]) Get(id flow.Identifier) (V, bool) {
	b.RLock()
	defer b.RUnlock()
	entity, ok := b.entities[id]
	return entity, ok
}

// Size will return the size of the backend.
func (b *backend[V]) Size() uint {
	b.RLock()
	defer b.RUnlock()
	return uint(len(b.entities))
}

// All returns all entities from the pool.
func (b *backend[V]) All() []V {
	b.RLock()
	defer b.RUnlock()
	entities := make([]V, 0, len(b.entities))
	for _, entity := range b.entities {
		entities = append(entities, entity)
	}
	return entities
}

// filter returns the entities matching the predicate.
func (b *backend[V]) filter(match func(V) bool) []V {
	b.RLock()
	defer b.RUnlock()
	var entities []V
	for _, entity := range b.entities {
		if match(entity) {
			entities = append(entities, entity)
		}
	}
	return entities
}

// removeIf removes the entities matching the predicate and returns their number.
func (b *backend[V]) removeIf(match func(V) bool) int {
	b.Lock()
	defer b.Unlock()
	removed := 0
	for id, entity := range b.entities {
		if match(entity) {
			delete(b.entities, id)
			removed++
		}
	}
	return removed
}
