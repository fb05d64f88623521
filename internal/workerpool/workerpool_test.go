package workerpool

import (
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_PreservesInputOrder(t *testing.T) {
	pool := NewPool(4)
	items := []int{5, 4, 3, 2, 1, 0}

	results := Run(pool, items, func(i int) int { return i * i })
	assert.Equal(t, []int{25, 16, 9, 4, 1, 0}, results)
}

func TestRun_EmptyInputReturnsEmptySlice(t *testing.T) {
	pool := NewPool(4)
	results := Run(pool, []int{}, func(i int) int { return i })
	assert.Empty(t, results)
}

func TestRun_DoesNotExceedWorkerCount(t *testing.T) {
	pool := NewPool(2)
	var concurrent int32
	var maxSeen int32

	items := make([]int, 20)
	Run(pool, items, func(i int) int {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		atomic.AddInt32(&concurrent, -1)
		return i
	})

	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestNewPool_DefaultsToTenWhenNonPositive(t *testing.T) {
	pool := NewPool(0)
	assert.Equal(t, 10, pool.numWorkers)
}

func TestRun_SortedResultsMatchDoubles(t *testing.T) {
	pool := NewPool(3)
	items := []int{1, 2, 3, 4}
	results := Run(pool, items, func(i int) int { return i * 2 })
	sorted := append([]int{}, results...)
	sort.Ints(sorted)
	assert.Equal(t, []int{2, 4, 6, 8}, sorted)
}
