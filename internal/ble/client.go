// Package ble presents the daemon as a Bluetooth LE HID keyboard via
// BlueZ. The Client encodes symbolic key codes into HID reports and
// hands them to a Transport; when no adapter or D-Bus is present the
// transport is a stub and every send is a silent no-op.
package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport delivers encoded HID reports to a connected central.
type Transport interface {
	NotifyKeyboard(report []byte)
	NotifyConsumer(report []byte)
	Available() bool
}

// Client turns symbolic key codes into report frames. Methods are safe
// for concurrent use and safe to call whether or not the transport
// ever came up.
type Client struct {
	tx  Transport
	log *slog.Logger

	mu       sync.Mutex
	keyboard keyboardState
	// consumer slot holds one usage at a time; a new press replaces it.
	consumerHeld uint16
}

func NewClient(tx Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{tx: tx, log: logger.With("component", "ble")}
}

// Available reports whether the HID transport is up, for health
// reporting.
func (c *Client) Available() bool {
	return c.tx != nil && c.tx.Available()
}

// KeyDown presses a key and keeps it held until KeyUp. Unknown codes
// are dropped with a warning.
func (c *Client) KeyDown(usage, code string) {
	if !c.Available() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch usage {
	case "keyboard":
		key, mod, ok := KeyboardUsage(code)
		if !ok {
			c.log.Warn("unknown keyboard code", "code", code)
			return
		}
		c.keyboard.press(key, mod)
		c.tx.NotifyKeyboard(c.keyboard.report())
	case "consumer":
		u, ok := ConsumerUsage(code)
		if !ok {
			c.log.Warn("unknown consumer code", "code", code)
			return
		}
		c.consumerHeld = u
		c.tx.NotifyConsumer(consumerReport(u))
	}
}

// KeyUp releases a key previously pressed with KeyDown.
func (c *Client) KeyUp(usage, code string) {
	if !c.Available() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch usage {
	case "keyboard":
		key, mod, ok := KeyboardUsage(code)
		if !ok {
			return
		}
		c.keyboard.release(key, mod)
		c.tx.NotifyKeyboard(c.keyboard.report())
	case "consumer":
		u, ok := ConsumerUsage(code)
		if !ok || u != c.consumerHeld {
			return
		}
		c.consumerHeld = 0
		c.tx.NotifyConsumer(consumerReport(0))
	}
}

// SendKey taps a key: down, hold, up. holdMs at or below zero uses the
// 40ms default.
func (c *Client) SendKey(ctx context.Context, usage, code string, holdMs int) {
	if !c.Available() {
		return
	}
	if holdMs <= 0 {
		holdMs = 40
	}
	c.KeyDown(usage, code)
	sleepMs(ctx, holdMs)
	c.KeyUp(usage, code)
}

// ReleaseAll clears both report slots. Called on shutdown so a central
// is not left with a stuck key.
func (c *Client) ReleaseAll() {
	if !c.Available() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyboard.releaseAll()
	c.consumerHeld = 0
	c.tx.NotifyKeyboard(c.keyboard.report())
	c.tx.NotifyConsumer(consumerReport(0))
}

// MacroStep is one tap in a named macro. HoldMs or DelayMs at zero fall
// back to the macro run defaults.
type MacroStep struct {
	Usage   string
	Code    string
	HoldMs  int
	DelayMs int // gap after this step before the next
}

// RunMacro plays a step sequence with per-step overrides. The run stops
// early when ctx is cancelled.
func (c *Client) RunMacro(ctx context.Context, steps []MacroStep, defaultHoldMs, interDelayMs int) {
	if !c.Available() {
		return
	}
	for i, step := range steps {
		if ctx.Err() != nil {
			return
		}
		hold := step.HoldMs
		if hold <= 0 {
			hold = defaultHoldMs
		}
		c.SendKey(ctx, step.Usage, step.Code, hold)
		if i == len(steps)-1 {
			break
		}
		delay := step.DelayMs
		if delay <= 0 {
			delay = interDelayMs
		}
		sleepMs(ctx, delay)
	}
}

func sleepMs(ctx context.Context, ms int) {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
