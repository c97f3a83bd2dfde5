package floyd

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerRunsTasksInOrder(t *testing.T) {
	assert := assert.New(t)

	w := newWorker("test")
	defer w.Stop()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		assert.True(w.Schedule(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestWorkerDelaySchedule(t *testing.T) {
	assert := assert.New(t)

	w := newWorker("test")
	defer w.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	w.DelaySchedule(20*time.Millisecond, func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		assert.GreaterOrEqual(at.Sub(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed task did not fire")
	}
}

func TestWorkerStopDrainsAndRefuses(t *testing.T) {
	assert := assert.New(t)

	w := newWorker("test")

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		w.Schedule(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	w.Stop()

	mu.Lock()
	assert.Equal(5, ran)
	mu.Unlock()

	assert.False(w.Schedule(func() {}))
	// stopping twice is a no-op
	w.Stop()
}
