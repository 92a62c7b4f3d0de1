package router

import "sync"

// deviceDispatcher runs commands for one device in arrival order, one at a
// time, while different devices proceed concurrently. A device's worker
// exits once its queue drains.
type deviceDispatcher struct {
	mu     sync.Mutex
	queues map[uint64][]func()
	wg     sync.WaitGroup
}

func newDeviceDispatcher() *deviceDispatcher {
	return &deviceDispatcher{queues: make(map[uint64][]func())}
}

func (d *deviceDispatcher) dispatch(ieeeAddress uint64, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, running := d.queues[ieeeAddress]
	d.queues[ieeeAddress] = append(q, fn)
	if running {
		return
	}

	d.wg.Add(1)
	go d.drain(ieeeAddress)
}

func (d *deviceDispatcher) drain(ieeeAddress uint64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		q := d.queues[ieeeAddress]
		if len(q) == 0 {
			delete(d.queues, ieeeAddress)
			d.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		d.queues[ieeeAddress] = q[1:]
		d.mu.Unlock()

		fn()
	}
}

// wait blocks until every dispatched command has run.
func (d *deviceDispatcher) wait() {
	d.wg.Wait()
}
