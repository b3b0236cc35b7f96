package input

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/remotehub/internal/keymap"
)

// fakeDevice replays a fixed event sequence, then returns an error.
type fakeDevice struct {
	mu      sync.Mutex
	events  []*evdev.InputEvent
	final   error
	closed  bool
	grabbed bool
	grabErr error
}

func (d *fakeDevice) ReadOne() (*evdev.InputEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, syscall.EBADF
	}
	if len(d.events) == 0 {
		if d.final != nil {
			return nil, d.final
		}
		return nil, syscall.ENODEV
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, nil
}

func (d *fakeDevice) Grab() error {
	if d.grabErr != nil {
		return d.grabErr
	}
	d.grabbed = true
	return nil
}

func (d *fakeDevice) Ungrab() error { d.grabbed = false; return nil }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func keyEvent(code evdev.EvCode, value int32) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: value}
}

func scanEvent(scan int32) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_MSC, Code: evdev.MSC_SCAN, Value: scan}
}

// runSession feeds the fake device through one reader session and
// returns the queued edges.
func runSession(t *testing.T, scancodes map[string]string, dev *fakeDevice) []KeyEdge {
	t.Helper()

	q := NewQueue(64)
	var mu sync.Mutex
	lost := false
	r := NewReader(ReaderConfig{
		Scancodes: scancodes,
		Queue:     q,
		OnDeviceLoss: func() {
			mu.Lock()
			lost = true
			mu.Unlock()
		},
	})
	// The fake path never exists on disk, so autodetection is the seam
	// that hands the reader its device.
	r.open = func(string) (Device, error) { return dev, nil }
	r.detect = func() string { return "/dev/input/event-test" }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	// The fake returns ENODEV once drained; the reader then sits in
	// backoff (the stat on the fake path fails, detect returns "").
	// Give the session a moment to finish, then cancel.
	deadline := time.After(2 * time.Second)
	for {
		dev.mu.Lock()
		drained := len(dev.events) == 0
		dev.mu.Unlock()
		if drained {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fake device never drained")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.True(t, lost, "device-loss callback must fire when the device closes")

	var edges []KeyEdge
	for {
		select {
		case e := <-q.Edges():
			edges = append(edges, e)
		default:
			return edges
		}
	}
}

func TestReaderResolvesSymbolicName(t *testing.T) {
	dev := &fakeDevice{events: []*evdev.InputEvent{
		keyEvent(evdev.KEY_ENTER, 1),
		keyEvent(evdev.KEY_ENTER, 0),
	}}

	edges := runSession(t, map[string]string{"KEY_ENTER": "rem_ok"}, dev)

	assert.Equal(t, []KeyEdge{
		{Key: "rem_ok", Edge: keymap.EdgeDown},
		{Key: "rem_ok", Edge: keymap.EdgeUp},
	}, edges)
}

func TestReaderPrefersScanCode(t *testing.T) {
	scancodes := map[string]string{
		"786924":    "rem_power",
		"KEY_ENTER": "rem_ok",
	}
	dev := &fakeDevice{events: []*evdev.InputEvent{
		scanEvent(786924),
		keyEvent(evdev.KEY_ENTER, 1), // scan code wins over the name
		keyEvent(evdev.KEY_ENTER, 0), // scan buffer consumed, falls back to name
	}}

	edges := runSession(t, scancodes, dev)

	assert.Equal(t, []KeyEdge{
		{Key: "rem_power", Edge: keymap.EdgeDown},
		{Key: "rem_ok", Edge: keymap.EdgeUp},
	}, edges)
}

func TestReaderIgnoresKernelRepeat(t *testing.T) {
	dev := &fakeDevice{events: []*evdev.InputEvent{
		keyEvent(evdev.KEY_ENTER, 1),
		keyEvent(evdev.KEY_ENTER, 2),
		keyEvent(evdev.KEY_ENTER, 2),
		keyEvent(evdev.KEY_ENTER, 0),
	}}

	edges := runSession(t, map[string]string{"KEY_ENTER": "rem_ok"}, dev)
	require.Len(t, edges, 2)
	assert.Equal(t, keymap.EdgeDown, edges[0].Edge)
	assert.Equal(t, keymap.EdgeUp, edges[1].Edge)
}

func TestReaderSuppressesDuplicateDown(t *testing.T) {
	dev := &fakeDevice{events: []*evdev.InputEvent{
		keyEvent(evdev.KEY_ENTER, 1),
		keyEvent(evdev.KEY_ENTER, 1), // duplicate down swallowed
		keyEvent(evdev.KEY_ENTER, 0),
		keyEvent(evdev.KEY_ENTER, 0), // up always emitted
	}}

	edges := runSession(t, map[string]string{"KEY_ENTER": "rem_ok"}, dev)

	assert.Equal(t, []KeyEdge{
		{Key: "rem_ok", Edge: keymap.EdgeDown},
		{Key: "rem_ok", Edge: keymap.EdgeUp},
		{Key: "rem_ok", Edge: keymap.EdgeUp},
	}, edges)
}

func TestReaderDropsUnmappedEvents(t *testing.T) {
	dev := &fakeDevice{events: []*evdev.InputEvent{
		keyEvent(evdev.KEY_Z, 1),
		keyEvent(evdev.KEY_Z, 0),
	}}

	edges := runSession(t, map[string]string{"KEY_ENTER": "rem_ok"}, dev)
	assert.Empty(t, edges)
}

func TestResolveLogical(t *testing.T) {
	r := NewReader(ReaderConfig{
		Scancodes: map[string]string{
			"786924":    "rem_power",
			"KEY_ENTER": "rem_ok",
		},
		Queue: NewQueue(1),
	})

	tests := []struct {
		name    string
		code    evdev.EvCode
		scan    int32
		hasScan bool
		want    string
	}{
		{"scan code match", evdev.KEY_ENTER, 786924, true, "rem_power"},
		{"unknown scan falls back to name", evdev.KEY_ENTER, 99, true, "rem_ok"},
		{"symbolic name", evdev.KEY_ENTER, 0, false, "rem_ok"},
		{"unmapped", evdev.KEY_Z, 0, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.resolveLogical(tt.code, tt.scan, tt.hasScan))
		})
	}
}

func TestIsDeviceGone(t *testing.T) {
	assert.True(t, isDeviceGone(syscall.ENODEV))
	assert.True(t, isDeviceGone(syscall.EIO))
	assert.True(t, isDeviceGone(&errWrap{syscall.ENODEV}))
	assert.False(t, isDeviceGone(syscall.EACCES))
	assert.False(t, isDeviceGone(errors.New("other")))
}

type errWrap struct{ err error }

func (e *errWrap) Error() string { return e.err.Error() }
func (e *errWrap) Unwrap() error { return e.err }

func TestJitteredStaysInBand(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(4 * time.Second)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
	// Inputs above the cap are clamped before jitter.
	assert.LessOrEqual(t, jittered(time.Minute), 12500*time.Millisecond)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 8*time.Second, nextBackoff(4*time.Second))
	assert.Equal(t, 10*time.Second, nextBackoff(8*time.Second))
	assert.Equal(t, 10*time.Second, nextBackoff(10*time.Second))
}

func TestReaderRunningFlag(t *testing.T) {
	dev := &fakeDevice{}
	q := NewQueue(1)
	r := NewReader(ReaderConfig{DevicePath: "/dev/input/event-test", Queue: q})
	r.open = func(string) (Device, error) { return dev, nil }
	r.detect = func() string { return "" }

	assert.False(t, r.Running())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.False(t, r.Running())
}

func TestDevicePathReporting(t *testing.T) {
	r := NewReader(ReaderConfig{Queue: NewQueue(1)})
	r.detect = func() string { return "" }
	assert.Equal(t, "<auto>", r.DevicePath())

	r2 := NewReader(ReaderConfig{DevicePath: "/dev/input/event7", Queue: NewQueue(1)})
	assert.Equal(t, "/dev/input/event7", r2.DevicePath())
}
