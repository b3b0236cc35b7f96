// Package dispatch turns logical key edges into actions: command
// events on the Home Assistant bus and key transitions on the BLE
// keyboard, with repeat and min-hold timer semantics.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/llehouerou/remotehub/internal/input"
	"github.com/llehouerou/remotehub/internal/keymap"
)

// CommandSender fires a command event on the remote bus. Best effort:
// the return value reports whether the command was accepted for
// transmission.
type CommandSender interface {
	SendCommand(text string, extra map[string]any) bool
}

// KeyTransport receives edge-accurate key transitions for the BLE
// keyboard. Calls are silent no-ops while the transport is down.
type KeyTransport interface {
	KeyDown(usage, code string)
	KeyUp(usage, code string)
}

// Config wires a Dispatcher. Repeat timing comes from configuration,
// not process-wide state.
type Config struct {
	Keymap        *keymap.Keymap
	Sender        CommandSender
	BLE           KeyTransport
	Queue         *input.Queue
	RepeatInitial time.Duration
	RepeatRate    time.Duration
	Logger        *slog.Logger
}

// control messages injected into the consumption loop, so activity and
// timer state stay owned by exactly one goroutine.
type controlMsg struct {
	kind     controlKind
	activity string
}

type controlKind int

const (
	ctrlActivity controlKind = iota
	ctrlDeviceLoss
)

// Dispatcher consumes edges from the queue and executes the active
// activity's bindings. All mutable state (activity, timer table) is
// owned by the Run goroutine.
type Dispatcher struct {
	km     *keymap.Keymap
	sender CommandSender
	ble    KeyTransport
	queue  *input.Queue
	log    *slog.Logger

	repeatInitial time.Duration
	repeatRate    time.Duration

	ctrl chan controlMsg

	// owned by the Run goroutine
	activity       string // "" means unset
	unsetNoticeLog bool   // one ignored-input notice per unset period
	timers         *timerTable
}

func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RepeatInitial <= 0 {
		cfg.RepeatInitial = 400 * time.Millisecond
	}
	if cfg.RepeatRate <= 0 {
		cfg.RepeatRate = 400 * time.Millisecond
	}
	return &Dispatcher{
		km:            cfg.Keymap,
		sender:        cfg.Sender,
		ble:           cfg.BLE,
		queue:         cfg.Queue,
		log:           logger.With("component", "dispatcher"),
		repeatInitial: cfg.RepeatInitial,
		repeatRate:    cfg.RepeatRate,
		ctrl:          make(chan controlMsg, 16),
		timers:        newTimerTable(),
	}
}

// OnActivity reports the current activity, or "" when the upstream
// source explicitly has none. Safe to call from any goroutine.
func (d *Dispatcher) OnActivity(activity string) {
	d.ctrl <- controlMsg{kind: ctrlActivity, activity: activity}
}

// OnDeviceLoss releases everything the dispatcher holds on behalf of
// the device: outstanding timers and held-key bookkeeping. Called by
// the reader whenever the device closes.
func (d *Dispatcher) OnDeviceLoss() {
	d.ctrl <- controlMsg{kind: ctrlDeviceLoss}
}

// Run is the single consumption loop. It exits when ctx is cancelled,
// after stopping every outstanding timer.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.timers.stopAll()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.ctrl:
			d.handleControl(msg)
		case edge := <-d.queue.Edges():
			d.handleEdge(edge)
		}
	}
}

func (d *Dispatcher) handleControl(msg controlMsg) {
	switch msg.kind {
	case ctrlActivity:
		d.activity = msg.activity
		// Any notification re-arms exactly one notice for the next
		// unset period, including an explicit change back to unset.
		d.unsetNoticeLog = false
		if msg.activity == "" {
			d.log.Info("activity cleared")
		} else {
			d.log.Info("activity", "name", msg.activity)
		}
	case ctrlDeviceLoss:
		released := d.timers.stopAll()
		if released > 0 {
			d.log.Info("device lost, released timers", "count", released)
		}
	}
}

func (d *Dispatcher) handleEdge(e input.KeyEdge) {
	if d.activity == "" {
		if !d.unsetNoticeLog {
			d.log.Info("activity not set yet; ignoring input")
			d.unsetNoticeLog = true
		}
		return
	}

	// Stop repeats before any up-bound action runs, so no repeat fires
	// after the key was released.
	if e.Edge == keymap.EdgeUp {
		d.timers.stopKey(e.Key)
	}

	for i, a := range d.km.Actions(d.activity, e.Key) {
		d.doAction(a, e, i)
	}
}

func (d *Dispatcher) doAction(a keymap.Action, e input.KeyEdge, index int) {
	switch a.Do {
	case keymap.ActionBle:
		// Edge-accurate; when/repeat/min_hold do not apply.
		if e.Edge == keymap.EdgeDown {
			d.ble.KeyDown(a.Usage, a.Code)
		} else {
			d.ble.KeyUp(a.Usage, a.Code)
		}

	case keymap.ActionEmit:
		if a.When != e.Edge {
			return
		}
		if e.Edge == keymap.EdgeUp {
			d.sender.SendCommand(a.Text, a.Extra)
			return
		}
		d.emitDown(a, e.Key, index)
	}
}

// emitDown handles a matching down edge: hold-gated or immediate first
// send, then an optional repeat loop.
func (d *Dispatcher) emitDown(a keymap.Action, key string, index int) {
	id := timerID{key: key, index: index}
	hold := time.Duration(a.MinHoldMs) * time.Millisecond

	if hold <= 0 {
		d.sender.SendCommand(a.Text, a.Extra)
		if !a.Repeat {
			return
		}
	}

	// One outstanding timer per (key, action) pair; a duplicate start
	// is a no-op.
	d.timers.start(id, func(cancel <-chan struct{}) {
		if hold > 0 {
			if !wait(cancel, hold) {
				return // released before min hold: suppress entirely
			}
			d.sender.SendCommand(a.Text, a.Extra)
			if !a.Repeat {
				return
			}
		}
		if !wait(cancel, d.repeatInitial) {
			return
		}
		for {
			d.sender.SendCommand(a.Text, a.Extra)
			if !wait(cancel, d.repeatRate) {
				return
			}
		}
	})
}

// wait sleeps for d or until cancelled; false means cancelled.
func wait(cancel <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-cancel:
		return false
	case <-t.C:
		return true
	}
}
