package service

import (
	"sort"
	"sync"
)

// keyedMutex hands out one mutex per key so that mutations can be serialized
// per player record and per room without a global lock.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		entries: make(map[string]*lockEntry),
	}
}

// Lock acquires the mutex for key and returns its release func.
func (that *keyedMutex) Lock(key string) func() {
	that.mu.Lock()
	entry, ok := that.entries[key]
	if !ok {
		entry = &lockEntry{}
		that.entries[key] = entry
	}
	entry.refs++
	that.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		that.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(that.entries, key)
		}
		that.mu.Unlock()
	}
}

// LockAll acquires the mutexes for all keys in sorted order, which keeps
// concurrent multi-key holders from deadlocking each other.
func (that *keyedMutex) LockAll(keys ...string) func() {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}

	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		unlocks = append(unlocks, that.Lock(key))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
