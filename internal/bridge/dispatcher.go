package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// job is one unit of work for a single device.
type job func(ctx context.Context)

// dispatcher runs one FIFO worker per device. Jobs for the same device run
// one at a time in submission order; jobs for different devices run
// concurrently. Each worker's queue is bounded and submit never blocks.
type dispatcher struct {
	queues  map[string]chan job
	dropped atomic.Uint64

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func newDispatcher(deviceIDs []string, queueSize int) *dispatcher {
	d := &dispatcher{queues: make(map[string]chan job, len(deviceIDs))}
	for _, id := range deviceIDs {
		d.queues[id] = make(chan job, queueSize)
	}
	return d
}

// start launches the workers. They exit when ctx is cancelled or stop is called.
func (d *dispatcher) start(ctx context.Context) {
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, q)
	}
}

func (d *dispatcher) work(ctx context.Context, q chan job) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			j(ctx)
		}
	}
}

// submit queues j on deviceID's worker.
func (d *dispatcher) submit(deviceID string, j job) error {
	q, ok := d.queues[deviceID]
	if !ok {
		return ErrUnknownDevice
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case q <- j:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// stop closes all queues and waits up to grace for workers to finish queued
// jobs. After that it calls cancel, which abandons queued jobs and ends
// in-flight ones that honour their ctx, then waits for the workers. It
// reports whether the queues drained within grace.
func (d *dispatcher) stop(grace time.Duration, cancel context.CancelFunc) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return true
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
	}
	cancel()
	<-done
	return false
}
