package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelize(t *testing.T) {
	t.Run("covers every item exactly once", func(t *testing.T) {
		const items = 1000
		var hits [items]int32
		Parallelize(items, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			assert.Equalf(t, int32(1), h, "item %d", i)
		}
	})

	t.Run("zero items is a no-op", func(t *testing.T) {
		called := false
		Parallelize(0, func(start, end int) { called = true })
		assert.False(t, called)
	})

	t.Run("single item", func(t *testing.T) {
		var total int32
		Parallelize(1, func(start, end int) {
			atomic.AddInt32(&total, int32(end-start))
		})
		assert.Equal(t, int32(1), total)
	})
}

func TestParallelizeWithThreshold(t *testing.T) {
	t.Run("below threshold runs as one range", func(t *testing.T) {
		var calls int32
		ParallelizeWithThreshold(10, 100, func(start, end int) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, 0, start)
			assert.Equal(t, 10, end)
		})
		assert.Equal(t, int32(1), calls)
	})

	t.Run("above threshold still covers everything", func(t *testing.T) {
		const items = 500
		var total int32
		ParallelizeWithThreshold(items, 1, func(start, end int) {
			atomic.AddInt32(&total, int32(end-start))
		})
		assert.Equal(t, int32(items), total)
	})
}
