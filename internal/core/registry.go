package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]*Entity)
	registryMu sync.RWMutex
)

// Register adds an entity to the registry.
// Panics if the manifest is invalid or an entity with the same key is already registered.
func Register(ent *Entity) {
	if err := ValidateEntity(ent); err != nil {
		panic(fmt.Sprintf("invalid entity: %v", err))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[ent.Key]; exists {
		panic(fmt.Sprintf("entity already registered: %s", ent.Key))
	}
	registry[ent.Key] = ent
}

// Replace adds an entity or overwrites the one registered under the same key.
// Used for operator-supplied catalogs loaded at startup.
func Replace(ent *Entity) error {
	if err := ValidateEntity(ent); err != nil {
		return err
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[ent.Key] = ent
	return nil
}

// Get returns an entity by key.
// Returns false if not found.
func Get(key string) (*Entity, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ent, ok := registry[key]
	return ent, ok
}

// All returns all registered entities sorted by key.
func All() []*Entity {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Entity, 0, len(registry))
	for _, ent := range registry {
		result = append(result, ent)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// EntityCount returns the number of registered entities.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Entity)
}
