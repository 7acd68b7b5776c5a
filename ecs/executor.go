package ecs

import (
	"fmt"
	"runtime"
	"sync"
)

// Executor is a fixed pool of workers with stable thread slots. Slot 0 is
// reserved for the frame thread; workers occupy slots 1..Workers(). Slots
// index the per-thread command queues and event buffers, so work running on a
// given worker always appends to the same buffers.
type Executor struct {
	workers int
	jobs    chan func(slot int)
}

func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	e := &Executor{
		workers: workers,
		jobs:    make(chan func(slot int)),
	}

	for w := 0; w < workers; w++ {
		slot := w + 1
		go func() {
			for job := range e.jobs {
				job(slot)
			}
		}()
	}

	return e
}

func (e *Executor) Workers() int {
	return e.workers
}

// Slots returns the number of thread slots, counting the frame thread.
func (e *Executor) Slots() int {
	return e.workers + 1
}

// ParallelFor splits [0, n) into blockSize ranges and runs fn on the pool,
// blocking until every range completes. A panic in any block is re-raised on
// the calling goroutine once all blocks finish. Must not be called from
// inside a pool job.
func (e *Executor) ParallelFor(n, blockSize int, fn func(start, end, slot int)) {
	if n <= 0 {
		return
	}
	if blockSize <= 0 {
		blockSize = 1
	}

	var wg sync.WaitGroup
	var panicOnce sync.Once
	var panicked any

	for start := 0; start < n; start += blockSize {
		start := start
		end := min(start+blockSize, n)

		wg.Add(1)
		e.jobs <- func(slot int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
			}()
			fn(start, end, slot)
		}
	}

	wg.Wait()

	if panicked != nil {
		panic(fmt.Sprintf("ecs: parallel block panicked: %v", panicked))
	}
}

// Close stops the workers. Pending ParallelFor calls must have returned.
func (e *Executor) Close() {
	close(e.jobs)
}
