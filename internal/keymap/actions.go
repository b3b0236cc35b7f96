// Package keymap loads and validates the remote keymap document: the
// scancode table mapping raw receiver events to logical rem_* keys,
// and the per-activity tables binding those keys to actions.
package keymap

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Edge is a key transition.
type Edge string

const (
	EdgeDown Edge = "down"
	EdgeUp   Edge = "up"
)

// ActionKind discriminates the action variants.
type ActionKind string

const (
	ActionEmit ActionKind = "emit" // fire a command event on the HA bus
	ActionBle  ActionKind = "ble"  // forward the edge to the BLE keyboard
)

// HID usage pages addressable by ble actions.
const (
	UsageKeyboard = "keyboard"
	UsageConsumer = "consumer"
)

// Action is one entry in an activity's binding list. Exactly one of
// the emit/ble field groups is meaningful depending on Do.
type Action struct {
	Do ActionKind

	// emit
	Text      string
	When      Edge // edge filter, down unless stated otherwise
	Repeat    bool
	MinHoldMs int            // 0 means no hold gating
	Extra     map[string]any // forwarded verbatim with the command

	// ble
	Usage string
	Code  string
}

// parseAction validates a single raw action entry. loc names the
// activity/key/index for error messages.
func parseAction(raw any, loc string) (Action, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Action{}, fmt.Errorf("%s: action must be an object, got %T", loc, raw)
	}

	do, _ := obj["do"].(string)
	switch ActionKind(do) {
	case ActionEmit:
		return parseEmit(obj, loc)
	case ActionBle:
		return parseBle(obj, loc)
	default:
		return Action{}, fmt.Errorf("%s: unknown do %q", loc, obj["do"])
	}
}

func parseEmit(obj map[string]any, loc string) (Action, error) {
	text, ok := obj["text"].(string)
	if !ok || text == "" {
		return Action{}, fmt.Errorf("%s: emit action requires a string text", loc)
	}

	a := Action{Do: ActionEmit, Text: text, When: EdgeDown}

	if w, present := obj["when"]; present {
		ws, ok := w.(string)
		if !ok || (Edge(ws) != EdgeDown && Edge(ws) != EdgeUp) {
			return Action{}, fmt.Errorf("%s: when must be %q or %q", loc, EdgeDown, EdgeUp)
		}
		a.When = Edge(ws)
	}

	if r, present := obj["repeat"]; present {
		rb, ok := r.(bool)
		if !ok {
			return Action{}, fmt.Errorf("%s: repeat must be a boolean", loc)
		}
		a.Repeat = rb
	}

	// Malformed timing values are recovered, not fatal: warn and fall
	// back to no hold gating.
	if mh, present := obj["min_hold_ms"]; present {
		ms, ok := toMs(mh)
		if !ok || ms < 0 {
			slog.Warn("invalid min_hold_ms, ignoring hold gating", "location", loc, "value", mh)
		} else {
			a.MinHoldMs = ms
		}
	}

	a.Extra = extraFields(obj)
	return a, nil
}

func parseBle(obj map[string]any, loc string) (Action, error) {
	usage, _ := obj["usage"].(string)
	if usage != UsageKeyboard && usage != UsageConsumer {
		return Action{}, fmt.Errorf("%s: ble usage must be %q or %q", loc, UsageKeyboard, UsageConsumer)
	}
	code, ok := obj["code"].(string)
	if !ok || code == "" {
		return Action{}, fmt.Errorf("%s: ble action requires a string code", loc)
	}
	return Action{Do: ActionBle, Usage: usage, Code: code}, nil
}

// reserved keys that never travel as extra command fields
var reservedEmitKeys = map[string]bool{
	"do": true, "when": true, "text": true, "repeat": true, "min_hold_ms": true,
}

func extraFields(obj map[string]any) map[string]any {
	var extra map[string]any
	for k, v := range obj {
		if reservedEmitKeys[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}

// toMs accepts the numeric shapes JSON and callers produce: float64,
// int, or a decimal string.
func toMs(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
