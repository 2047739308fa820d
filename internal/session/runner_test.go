package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIORunnerSerializesCallbacks(t *testing.T) {
	r := NewIORunner()
	defer r.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		r.RequestIOProcessing(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	assert.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v, "callbacks must run in post order")
	}
}

func TestIORunnerStopDropsLatePosts(t *testing.T) {
	r := NewIORunner()
	r.Stop()

	ran := false
	r.RequestIOProcessing(func() { ran = true })
	assert.False(t, ran)
}

func TestIORunnerStopIdempotent(t *testing.T) {
	r := NewIORunner()
	r.Stop()
	r.Stop()
}
