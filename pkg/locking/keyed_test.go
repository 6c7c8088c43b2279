package locking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("siteA:P1N")
			counter++
			km.Unlock("siteA:P1N")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	km.Lock("groupA")
	// A different key must not be blocked by groupA's holder.
	assert.True(t, km.TryLock("groupB"))
	km.Unlock("groupB")
	km.Unlock("groupA")
}

func TestKeyedMutexTryLock(t *testing.T) {
	km := NewKeyedMutex()

	assert.True(t, km.TryLock("P1"))
	assert.False(t, km.TryLock("P1"))
	km.Unlock("P1")
	assert.True(t, km.TryLock("P1"))
	km.Unlock("P1")
}

func TestKeyedMutexUnlockUnknownPanics(t *testing.T) {
	km := NewKeyedMutex()
	assert.Panics(t, func() { km.Unlock("never-locked") })
}
