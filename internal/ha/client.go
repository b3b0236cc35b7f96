// Package ha is the Home Assistant websocket client: it authenticates,
// subscribes to state changes and the command event, seeds the current
// activity, and fires command events back. Sends are best effort with
// no queueing; the connection reconnects forever with capped backoff.
package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectFloor = 1 * time.Second
	reconnectCap   = 60 * time.Second
)

// ClientConfig wires a Client.
type ClientConfig struct {
	URL            string
	Token          string
	ActivityEntity string // entity whose state is the current activity
	EventName      string // event type for both directions

	// OnActivity receives the activity on seed and on every reported
	// change; "" means explicitly unset.
	OnActivity func(activity string)
	// OnCommand receives inbound command event payloads addressed to
	// this daemon (dest == "pi").
	OnCommand func(data map[string]any)

	Logger *slog.Logger
}

type Client struct {
	cfg ClientConfig
	log *slog.Logger

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	conn    *websocket.Conn
	msgID   int

	connected    atomic.Bool
	lastActivity atomic.Value // string
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg: cfg,
		log: logger.With("component", "ws"),
	}
	c.lastActivity.Store("")
	return c
}

// Connected reports whether the websocket is currently up, for health
// reporting.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// LastActivity returns the most recent activity value seen, for health
// reporting.
func (c *Client) LastActivity() string {
	v, _ := c.lastActivity.Load().(string)
	return v
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	delay := reconnectFloor
	for ctx.Err() == nil {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Warn("connection failed", "error", err)
			if !sleep(ctx, jittered(delay)) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		// Clean pass: reset backoff, brief pause before redialing.
		delay = reconnectFloor
		if !sleep(ctx, time.Duration(200+rand.Intn(600))*time.Millisecond) {
			return
		}
	}
}

// SendCommand fires a command event addressed to Home Assistant.
// Returns false when offline or on a write failure; no retries.
func (c *Client) SendCommand(text string, extra map[string]any) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return false
	}
	data := map[string]any{"dest": "ha", "text": text}
	for k, v := range extra {
		data[k] = v
	}
	err := c.conn.WriteJSON(map[string]any{
		"id":         c.nextIDLocked(),
		"type":       "fire_event",
		"event_type": c.cfg.EventName,
		"event_data": data,
	})
	return err == nil
}

// ── connection lifecycle ────────────────────────────────────────────

// connectOnce runs one connection lifecycle: dial, auth, subscribe,
// seed, receive until closed. A nil return means the connection was
// established and later closed; an error means the attempt failed.
func (c *Client) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Closing the socket is what unblocks the read loop on shutdown.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()
	defer func() {
		close(watchDone)
		c.setConn(nil)
		_ = conn.Close()
		c.connected.Store(false)
		c.log.Info("disconnected")
	}()

	if err := c.auth(conn); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	c.setConn(conn)
	c.connected.Store(true)
	c.log.Info("connected")

	// Subscribe before seeding so a change during the seed round-trip
	// is not lost.
	if err := c.subscribe(conn, "state_changed"); err != nil {
		return err
	}
	if err := c.subscribe(conn, c.cfg.EventName); err != nil {
		return err
	}
	if err := c.seedActivity(conn); err != nil {
		return err
	}

	c.recvLoop(conn)
	return nil
}

func (c *Client) auth(conn *websocket.Conn) error {
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type == "auth_ok" {
		return nil
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", msg.Type)
	}
	if err := c.write(conn, map[string]any{"type": "auth", "access_token": c.cfg.Token}); err != nil {
		return err
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != "auth_ok" {
		return errors.New("authentication rejected")
	}
	return nil
}

func (c *Client) subscribe(conn *websocket.Conn, eventType string) error {
	return c.write(conn, map[string]any{
		"id":         c.nextID(),
		"type":       "subscribe_events",
		"event_type": eventType,
	})
}

// seedActivity fetches the current activity once per connection and
// always reports it, even when unchanged, so the dispatcher is seeded
// after every reconnect.
func (c *Client) seedActivity(conn *websocket.Conn) error {
	reqID := c.nextID()
	if err := c.write(conn, map[string]any{"id": reqID, "type": "get_states"}); err != nil {
		return err
	}
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		// Interleaved messages before our result are ignored.
		if msg.Type != "result" || msg.ID != reqID {
			continue
		}
		if !msg.Success {
			return errors.New("get_states failed")
		}
		var states []entityState
		if err := json.Unmarshal(msg.Result, &states); err != nil {
			return fmt.Errorf("get_states result: %w", err)
		}
		for _, st := range states {
			if st.EntityID == c.cfg.ActivityEntity {
				c.reportActivity(st.State, true)
				break
			}
		}
		return nil
	}
}

func (c *Client) recvLoop(conn *websocket.Conn) {
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "event" || msg.Event == nil {
			continue
		}
		switch msg.Event.EventType {
		case "state_changed":
			c.handleStateChanged(msg.Event.Data)
		case c.cfg.EventName:
			c.handleCommandEvent(msg.Event.Data)
		}
	}
}

func (c *Client) handleStateChanged(data map[string]any) {
	entity, _ := data["entity_id"].(string)
	if entity == "" {
		if old, ok := data["old_state"].(map[string]any); ok {
			entity, _ = old["entity_id"].(string)
		}
	}
	if entity != c.cfg.ActivityEntity {
		return
	}
	newState, ok := data["new_state"].(map[string]any)
	if !ok {
		return
	}
	state, ok := newState["state"].(string)
	if !ok {
		return
	}
	c.reportActivity(state, false)
}

func (c *Client) handleCommandEvent(data map[string]any) {
	if dest, _ := data["dest"].(string); dest != "pi" {
		return
	}
	text, _ := data["text"].(string)
	c.log.Info("command", "text", text)
	if c.cfg.OnCommand != nil {
		c.cfg.OnCommand(data)
	}
}

// reportActivity normalizes and forwards an activity value. HA reports
// "unknown"/"unavailable" for an entity with no usable state; both map
// to unset.
func (c *Client) reportActivity(state string, seed bool) {
	activity := normalizeActivity(state)
	if seed || activity != c.LastActivity() {
		c.log.Info("activity", "name", activity, "seed", seed)
	}
	c.lastActivity.Store(activity)
	if c.cfg.OnActivity != nil {
		c.cfg.OnActivity(activity)
	}
}

func normalizeActivity(state string) string {
	switch state {
	case "unknown", "unavailable":
		return ""
	}
	return state
}

// ── plumbing ────────────────────────────────────────────────────────

type serverMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *serverEvent    `json:"event,omitempty"`
}

type serverEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

type entityState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) nextID() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.nextIDLocked()
}

func (c *Client) nextIDLocked() int {
	c.msgID++
	return c.msgID
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectCap {
		return reconnectCap
	}
	return d
}

func jittered(d time.Duration) time.Duration {
	if d > reconnectCap {
		d = reconnectCap
	}
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

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
