// Package dispatcher manages worker fan-out over the shared queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/retailpulse/harvester/internal/worker"
)

// Dispatcher fans work out to a pool of workers, each owning its own
// batch writer and record buffer.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until the context finishes and all
// workers have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
