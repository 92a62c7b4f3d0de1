package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteQueueAdmitsInArrivalOrder(t *testing.T) {
	q := &writeQueue{}
	q.acquire()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			q.acquire()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			q.release()
		}(i)
		require.Eventually(t, func() bool { return q.waiters() == i+1 }, time.Second, time.Millisecond)
	}

	q.release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
	assert.Equal(t, 0, q.waiters())

	// idle again
	q.acquire()
	q.release()
}
