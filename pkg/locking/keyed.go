// Package locking provides a mutex keyed by string, used to serialize
// operations that must not interleave for the same resource (identifier
// allocation per site and prefix, partition moves per group) while leaving
// unrelated resources concurrent.
package locking

import "sync"

// KeyedMutex is a set of named mutexes. The zero value is not usable; use
// NewKeyedMutex.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use. Mutexes are
// never reclaimed; the key space here is small and bounded (sites, groups).
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for key. Panics if the key was never locked.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		panic("locking: unlock of unknown key " + key)
	}
	m.Unlock()
}

// TryLock acquires the mutex for key without blocking. Returns false when
// another holder has it.
func (k *KeyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	return m.TryLock()
}
