package router

import (
	"sync"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
)

type pendingKey struct {
	ieeeAddress zigbee.IEEEAddress
	sequence    uint8
}

// pendingTracker hands ZCL responses to the caller waiting on the
// (node, transaction sequence) of its request.
type pendingTracker struct {
	mu      sync.Mutex
	waiting map[pendingKey]chan zcl.Message
}

func newPendingTracker() *pendingTracker {
	return &pendingTracker{
		waiting: make(map[pendingKey]chan zcl.Message),
	}
}

func (p *pendingTracker) add(ieeeAddress zigbee.IEEEAddress, sequence uint8) (<-chan zcl.Message, func()) {
	key := pendingKey{ieeeAddress, sequence}
	ch := make(chan zcl.Message, 1)

	p.mu.Lock()
	p.waiting[key] = ch
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.waiting[key] == ch {
			delete(p.waiting, key)
		}
	}
}

// resolve delivers msg to its waiter and reports whether there was one.
func (p *pendingTracker) resolve(ieeeAddress zigbee.IEEEAddress, msg zcl.Message) bool {
	key := pendingKey{ieeeAddress, msg.TransactionSequence}

	p.mu.Lock()
	ch, ok := p.waiting[key]
	delete(p.waiting, key)
	p.mu.Unlock()

	if ok {
		ch <- msg
	}

	return ok
}
