package dispatch

// timerID identifies one timer slot: a key's action at a position in
// its binding list. At most one timer runs per slot.
type timerID struct {
	key   string
	index int
}

// timerHandle tracks one running timer goroutine. Closing cancel asks
// it to stop; done closes when it has fully unwound.
type timerHandle struct {
	cancel chan struct{}
	done   chan struct{}
}

// timerTable is the arena of active timers. It is owned by the
// dispatcher's Run goroutine; no locking.
type timerTable struct {
	active map[timerID]*timerHandle
}

func newTimerTable() *timerTable {
	return &timerTable{active: make(map[timerID]*timerHandle)}
}

// start launches fn in its own goroutine unless a timer for id is
// already active. fn must return promptly once its cancel channel
// closes.
func (t *timerTable) start(id timerID, fn func(cancel <-chan struct{})) bool {
	if h, exists := t.active[id]; exists {
		select {
		case <-h.done:
			// finished on its own (hold already fired); reap the slot
			delete(t.active, id)
		default:
			return false
		}
	}
	h := &timerHandle{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.active[id] = h
	go func() {
		defer close(h.done)
		fn(h.cancel)
	}()
	return true
}

// stop cancels the timer for id and waits for its goroutine to exit,
// so no in-flight send can race with the caller's next step.
func (t *timerTable) stop(id timerID) bool {
	h, ok := t.active[id]
	if !ok {
		return false
	}
	delete(t.active, id)
	close(h.cancel)
	<-h.done
	return true
}

// stopKey stops every timer slot belonging to a logical key.
func (t *timerTable) stopKey(key string) int {
	n := 0
	for id := range t.active {
		if id.key == key {
			if t.stop(id) {
				n++
			}
		}
	}
	return n
}

// stopAll stops everything; used on device loss and shutdown.
func (t *timerTable) stopAll() int {
	n := 0
	for id := range t.active {
		if t.stop(id) {
			n++
		}
	}
	return n
}

// len reports the number of active timers, for tests and liveness
// checks.
func (t *timerTable) len() int {
	return len(t.active)
}
