package utils

import (
	"sync"

	"github.com/rs/zerolog"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	tasks     chan func()
	waitGroup sync.WaitGroup
	logger    zerolog.Logger
}

// NewWorkerPool starts a WorkerPool with the specified number of workers.
func NewWorkerPool(workers int, logger zerolog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		tasks:  make(chan func()),
		logger: logger,
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for task := range wp.tasks {
		wp.run(task)
	}
}

// run executes task, keeping the worker alive if it panics.
func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().Interface("panic", r).Msg("Worker task panicked")
		}
	}()
	task()
}

// Submit blocks until a worker accepts task.
func (wp *WorkerPool) Submit(task func()) {
	wp.tasks <- task
}

// Shutdown waits for all submitted tasks to finish. Submit must not be
// called afterwards.
func (wp *WorkerPool) Shutdown() {
	close(wp.tasks)
	wp.waitGroup.Wait()
}
