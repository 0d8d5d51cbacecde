package anchor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lock("product/prod-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	// Holding one key must not block another.
	unlockA := km.lock("product/a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.lock("product/b")
		unlockB()
		close(done)
	}()

	<-done
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.lock("product/a")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}
