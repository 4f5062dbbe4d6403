package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRU_SetAndGet(t *testing.T) {
	lru := NewLRU[string](5)

	lru.Set("key1", "value1", time.Minute)

	val, found := lru.Get("key1")
	assert.True(t, found, "Should find key1")
	assert.Equal(t, "value1", val, "Should get correct value for key1")

	_, found = lru.Get("nonexistent")
	assert.False(t, found, "Should not find a non-existent key")
}

func TestLRU_UpdateKey(t *testing.T) {
	lru := NewLRU[int](2)

	lru.Set("key1", 100, time.Minute)
	lru.Set("key2", 200, time.Minute)

	lru.Set("key1", 999, time.Minute)
	val, found := lru.Get("key1")
	assert.True(t, found, "Key should be present after update")
	assert.Equal(t, 999, val, "Value should be the updated value")

	_, found = lru.Get("key2")
	assert.True(t, found, "Other key should not be affected by an update")
	assert.Equal(t, 2, lru.Len(), "Update should not grow the tier")
}

func TestLRU_EvictionOrder(t *testing.T) {
	lru := NewLRU[string](2)

	// Insert three keys in order with no reads in between.
	lru.Set("a", "one", time.Minute)
	lru.Set("b", "two", time.Minute)
	lru.Set("c", "three", time.Minute)

	_, found := lru.Get("a")
	assert.False(t, found, "Oldest key should have been evicted")
	_, found = lru.Get("b")
	assert.True(t, found, "Key b should survive")
	_, found = lru.Get("c")
	assert.True(t, found, "Key c should survive")
	assert.Equal(t, 2, lru.Len(), "Size should stay within capacity")
}

func TestLRU_ReadRefreshesRecency(t *testing.T) {
	lru := NewLRU[string](2)

	lru.Set("a", "one", time.Minute)
	lru.Set("b", "two", time.Minute)

	// Reading `a` makes `b` the least recently used entry.
	_, found := lru.Get("a")
	assert.True(t, found)

	lru.Set("c", "three", time.Minute)

	_, found = lru.Get("b")
	assert.False(t, found, "Key b should have been evicted after a was refreshed")
	_, found = lru.Get("a")
	assert.True(t, found, "Recently read key should survive eviction")
	_, found = lru.Get("c")
	assert.True(t, found, "Newest key should survive eviction")
}

func TestLRU_LazyExpiry(t *testing.T) {
	lru := NewLRU[int](5)

	lru.Set("key1", 1, 100*time.Millisecond)

	_, found := lru.Get("key1")
	assert.True(t, found, "Fresh entry should hit")

	time.Sleep(200 * time.Millisecond)

	// No sweeper: the expired entry is still occupying a slot until something reads it.
	assert.Equal(t, 1, lru.Len(), "Expired entry should linger until read")
	_, found = lru.Get("key1")
	assert.False(t, found, "Expired entry should read as a miss")
	assert.Equal(t, 0, lru.Len(), "Expired entry should be deleted by the read")
}

func TestLRU_NonPositiveTTLNeverExpires(t *testing.T) {
	lru := NewLRU[int](5)

	lru.Set("key1", 1, 0)
	time.Sleep(20 * time.Millisecond)

	_, found := lru.Get("key1")
	assert.True(t, found, "Entry with no TTL should not expire")
}

func TestLRU_InvalidateAndClear(t *testing.T) {
	lru := NewLRU[string](5)

	lru.Set("key1", "value1", time.Minute)
	lru.Set("key2", "value2", time.Minute)

	t.Run("invalidate one", func(t *testing.T) {
		lru.Invalidate("key1")
		_, found := lru.Get("key1")
		assert.False(t, found, "Invalidated key should miss")
		_, found = lru.Get("key2")
		assert.True(t, found, "Other keys should be untouched")
	})
	t.Run("invalidate absent key is a no-op", func(t *testing.T) {
		lru.Invalidate("nonexistent")
		assert.Equal(t, 1, lru.Len())
	})
	t.Run("clear", func(t *testing.T) {
		lru.Clear()
		assert.Equal(t, 0, lru.Len())
		assert.Empty(t, lru.Keys())
	})
}

func TestLRU_Keys(t *testing.T) {
	lru := NewLRU[int](5)
	lru.Set("a", 1, time.Minute)
	lru.Set("b", 2, time.Minute)
	assert.ElementsMatch(t, []string{"a", "b"}, lru.Keys())
}

func TestLRU_Concurrency(t *testing.T) {
	numGoroutines := 50
	itemsPerGoroutine := 50

	lru := NewLRU[int](1000)
	var wg sync.WaitGroup

	// Concurrent writers.
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				lru.Set(fmt.Sprintf("key-%d-%d", goroutineID, j), goroutineID*100+j, time.Minute)
			}
		}(i)
	}
	wg.Wait()

	// Concurrent readers.
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				// We can't guarantee the key is still present due to evictions from other goroutines,
				// but if it is found, its value must be correct.
				if val, found := lru.Get(fmt.Sprintf("key-%d-%d", goroutineID, j)); found {
					assert.Equal(t, goroutineID*100+j, val, "Concurrent Get should return the correct value")
				}
			}
		}(i)
	}
	wg.Wait()
}
