package input

import (
	"sync/atomic"

	"github.com/llehouerou/remotehub/internal/keymap"
)

// KeyEdge is one logical key transition produced by the reader.
type KeyEdge struct {
	Key  string // logical rem_* key
	Edge keymap.Edge
}

// Queue is the bounded hand-off between the device reader and the
// dispatcher. Push never blocks: when the buffer is full the new edge
// is dropped (tail-drop) and counted. Note that this can drop an "up"
// edge and leave the dispatcher believing a key is still held until
// the next edge or a device-loss notification arrives.
type Queue struct {
	ch      chan KeyEdge
	dropped atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 32
	}
	return &Queue{ch: make(chan KeyEdge, capacity)}
}

// Push enqueues the edge, or drops it when the queue is full. Returns
// whether the edge was accepted.
func (q *Queue) Push(e KeyEdge) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Edges is the consumption side; the dispatcher's single loop receives
// from it.
func (q *Queue) Edges() <-chan KeyEdge {
	return q.ch
}

// Dropped returns the monotonically increasing dropped-edge count.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
