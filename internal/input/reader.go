// Package input owns the physical side of the pipeline: a resilient
// evdev read loop that resolves raw receiver events to logical key
// edges, and the bounded queue that hands them to the dispatcher.
package input

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/llehouerou/remotehub/internal/keymap"
)

const (
	backoffFloor = 1 * time.Second
	backoffCap   = 10 * time.Second
)

// Device is the slice of *evdev.InputDevice the reader needs; tests
// substitute a fake.
type Device interface {
	ReadOne() (*evdev.InputEvent, error)
	Grab() error
	Ungrab() error
	Close() error
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	// DevicePath pins a device; empty means autodetect under
	// /dev/input/by-id, preferring the Unifying receiver.
	DevicePath string
	Scancodes  map[string]string // raw identifier -> logical rem_* key
	Queue      *Queue
	Grab       bool
	// OnDeviceLoss fires whenever the device closes for any reason, so
	// the dispatcher can release held keys and cancel timers.
	OnDeviceLoss func()
	Logger       *slog.Logger

	DebugInput   bool // log every emitted edge
	DebugUnknown bool // log unmapped key events
}

// Reader owns one input device at a time and emits logical key edges
// into the queue. It survives device absence and hot-unplug with
// capped, jittered exponential backoff and never blocks on the
// dispatcher.
type Reader struct {
	scancodes map[string]string
	queue     *Queue
	grab      bool
	onLoss    func()
	log       *slog.Logger

	debugInput   bool
	debugUnknown bool

	mu         sync.Mutex
	path       string // configured or pinned-after-autodetect
	configured bool

	running atomic.Bool

	// test seams
	open   func(path string) (Device, error)
	detect func() string
}

func NewReader(cfg ReaderConfig) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{
		scancodes:    cfg.Scancodes,
		queue:        cfg.Queue,
		grab:         cfg.Grab,
		onLoss:       cfg.OnDeviceLoss,
		log:          logger.With("component", "usb"),
		debugInput:   cfg.DebugInput,
		debugUnknown: cfg.DebugUnknown,
		path:         cfg.DevicePath,
		configured:   cfg.DevicePath != "",
		detect:       autodetect,
	}
	r.open = func(path string) (Device, error) {
		dev, err := evdev.Open(path)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	return r
}

// Running reports whether the read loop is active, for health
// reporting.
func (r *Reader) Running() bool {
	return r.running.Load()
}

// DevicePath returns the resolved device path, or "<auto>" before the
// first successful autodetection.
func (r *Reader) DevicePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" {
		return "<auto>"
	}
	return r.path
}

// Run drives the open/read/reopen loop until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	backoff := backoffFloor
	for ctx.Err() == nil {
		path := r.resolvePath()
		if path == "" {
			if !sleep(ctx, jittered(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		dev, err := r.open(path)
		if err != nil {
			if !sleep(ctx, jittered(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		grabbed := false
		if r.grab {
			if err := dev.Grab(); err != nil {
				// Shared mode still works; grab is best effort.
				r.log.Warn("grab failed, continuing without exclusive access", "path", path, "error", err)
			} else {
				grabbed = true
			}
		}
		r.log.Info("device open", "path", path, "grabbed", grabbed)
		backoff = backoffFloor

		err = r.readSession(ctx, dev, grabbed)

		// The dispatcher may be tracking keys as held; tell it the
		// device is gone regardless of why it closed.
		if r.onLoss != nil {
			r.onLoss()
		}

		switch {
		case ctx.Err() != nil:
			return
		case isDeviceGone(err):
			r.log.Warn("device lost, reopening", "path", path, "error", err)
			if !sleep(ctx, jittered(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
		default:
			r.log.Warn("read error, retrying", "path", path, "error", err)
			if !sleep(ctx, backoffFloor) {
				return
			}
		}
	}
}

// readSession runs the read loop for one open device and always
// releases it before returning.
func (r *Reader) readSession(ctx context.Context, dev Device, grabbed bool) error {
	// ReadOne blocks in the kernel; closing the descriptor is the only
	// way to unstick it on cancellation.
	sessionDone := make(chan struct{})
	var closeOnce sync.Once
	closeDev := func() {
		closeOnce.Do(func() {
			if grabbed {
				_ = dev.Ungrab()
			}
			_ = dev.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			closeDev()
		case <-sessionDone:
		}
	}()
	defer func() {
		close(sessionDone)
		closeDev()
	}()

	var (
		lastScan    int32
		hasLastScan bool
		pressed     = make(map[pressedKey]struct{})
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := dev.ReadOne()
		if err != nil {
			return err
		}

		if ev.Type == evdev.EV_MSC && ev.Code == evdev.MSC_SCAN {
			lastScan = ev.Value
			hasLastScan = true
			continue
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}

		logical := r.resolveLogical(ev.Code, lastScan, hasLastScan)
		// A scan code attaches to exactly one key event.
		hasLastScan = false

		if logical == "" {
			if r.debugUnknown {
				r.log.Debug("unmapped key event", "code", evdev.CodeName(evdev.EV_KEY, ev.Code))
			}
			continue
		}

		switch ev.Value {
		case 2:
			// kernel auto-repeat
			continue
		case 1:
			id := pressedKey{logical: logical, code: ev.Code}
			if _, held := pressed[id]; held {
				continue
			}
			pressed[id] = struct{}{}
			r.emit(logical, keymap.EdgeDown)
		default:
			delete(pressed, pressedKey{logical: logical, code: ev.Code})
			r.emit(logical, keymap.EdgeUp)
		}
	}
}

type pressedKey struct {
	logical string
	code    evdev.EvCode
}

// resolveLogical maps a raw key event to a logical key: the buffered
// numeric scan code first (as a decimal string), then the symbolic
// KEY_* name. Empty means unmapped.
func (r *Reader) resolveLogical(code evdev.EvCode, scan int32, hasScan bool) string {
	if hasScan {
		if logical, ok := r.scancodes[strconv.Itoa(int(scan))]; ok {
			return logical
		}
	}
	if logical, ok := r.scancodes[evdev.CodeName(evdev.EV_KEY, code)]; ok {
		return logical
	}
	return ""
}

func (r *Reader) emit(logical string, edge keymap.Edge) {
	if r.debugInput {
		r.log.Debug("edge", "key", logical, "edge", edge)
	}
	if !r.queue.Push(KeyEdge{Key: logical, Edge: edge}) {
		r.log.Warn("edge queue full, dropping edge", "key", logical, "edge", edge, "dropped", r.queue.Dropped())
	}
}

// resolvePath returns the device path for this round. A path that no
// longer exists is re-autodetected; a found device is pinned until it
// disappears.
func (r *Reader) resolvePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path != "" {
		if _, err := os.Stat(r.path); err == nil {
			return r.path
		}
		// A configured path is pinned: wait for it to come back
		// instead of wandering to another device.
		if r.configured {
			return ""
		}
	}
	if p := r.detect(); p != "" {
		r.path = p
		return p
	}
	return ""
}

// autodetect finds a keyboard-class device under /dev/input/by-id,
// preferring the Unifying receiver.
func autodetect() string {
	for _, pattern := range []string{
		"/dev/input/by-id/*Unifying*event-kbd",
		"/dev/input/by-id/*event-kbd",
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0]
	}
	return ""
}

// isDeviceGone reports the unplug/replug error class that warrants
// exponential backoff rather than a plain retry.
func isDeviceGone(err error) bool {
	return errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.EIO)
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// jittered spreads retries by ±25% so replug storms do not align.
func jittered(d time.Duration) time.Duration {
	if d > backoffCap {
		d = backoffCap
	}
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

// sleep waits for d or cancellation; false means cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
