package compute

import (
	"errors"
	"fmt"
	"sync"

	"trafficsim/internal/physics"
	"trafficsim/internal/road"
)

var errDeviceClosed = errors.New("device closed")

// span is an inclusive range of body indices.
type span struct{ start, end int }

// workerMask collects the spans assigned to one worker goroutine.
type workerMask struct {
	spans []span
}

// WorkerDevice runs the Go kernel on a persistent pool of goroutines. Each
// Run hands every worker its spans, wakes the pool and waits until all of
// them have reported back.
type WorkerDevice struct {
	net     road.Network
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	step    int
	pending int
	closed  bool
	masks   []workerMask
	in, out []road.Body
	dt      float32
	wg      sync.WaitGroup
}

// NewWorkerDevice starts workers goroutines that live until Close.
func NewWorkerDevice(net road.Network, workers int) *WorkerDevice {
	if workers < 1 {
		workers = 1
	}
	d := &WorkerDevice{net: net, workers: workers}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.loop(i)
	}
	return d
}

func (d *WorkerDevice) Name() string { return fmt.Sprintf("workers(%d)", d.workers) }

func (d *WorkerDevice) loop(index int) {
	defer d.wg.Done()
	lastStep := 0
	d.mu.Lock()
	for {
		for d.step == lastStep && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		lastStep = d.step
		var mask workerMask
		if index < len(d.masks) {
			mask = d.masks[index]
		}
		in, out, dt := d.in, d.out, d.dt
		d.mu.Unlock()

		for _, sp := range mask.spans {
			for i := sp.start; i <= sp.end; i++ {
				out[i] = physics.Step(d.net, in, i, dt)
			}
		}

		d.mu.Lock()
		d.pending--
		if d.pending == 0 {
			d.cond.Broadcast()
		}
	}
}

// Run computes out[i] = physics.Step(in, i) for every body and blocks until
// all workers are done.
func (d *WorkerDevice) Run(in, out []road.Body, dt float32) error {
	if len(out) < len(in) {
		return fmt.Errorf("output holds %d bodies, need %d", len(out), len(in))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}
	d.in, d.out, d.dt = in, out, dt
	d.masks = assignSpans(d.workers, chunk(len(in), d.workers))
	d.pending = d.workers
	d.step++
	d.cond.Broadcast()
	for d.pending > 0 {
		d.cond.Wait()
	}
	d.in, d.out = nil, nil
	tracef("%s: stepped %d bodies", d.Name(), len(in))
	return nil
}

// Close stops the pool and waits for every worker to exit.
func (d *WorkerDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// chunk splits n bodies into roughly four spans per worker so uneven leader
// searches even out.
func chunk(n, workers int) []span {
	if n == 0 {
		return nil
	}
	size := n / (workers * 4)
	if size < 1 {
		size = 1
	}
	spans := make([]span, 0, n/size+1)
	for start := 0; start < n; start += size {
		spans = append(spans, span{start: start, end: min(start+size, n) - 1})
	}
	return spans
}

// assignSpans distributes spans across worker goroutines in round robin fashion.
func assignSpans(workerCount int, spans []span) []workerMask {
	if workerCount < 1 {
		workerCount = 1
	}
	masks := make([]workerMask, workerCount)
	for idx, sp := range spans {
		workerIdx := idx % workerCount
		masks[workerIdx].spans = append(masks[workerIdx].spans, sp)
	}
	return masks
}
