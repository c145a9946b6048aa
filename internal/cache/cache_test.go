package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCache_Basic(t *testing.T) {
	c := NewMapCache[int64, string]()

	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Set(1, "a")
	c.Set(2, "b")
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, c.Len())

	c.Delete(1)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestMapCache_Concurrent(t *testing.T) {
	c := NewMapCache[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i, i)
			c.Get(i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
