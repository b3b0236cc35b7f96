package keymap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// Keymap holds the validated keymap document. Immutable after load.
type Keymap struct {
	scancodes  map[string]string
	activities map[string]map[string][]Action
}

// Load reads the keymap document from the first existing candidate
// path: the explicit path argument, the KEYMAP_PATH environment
// variable, the XDG config dir, then ./keymap.json. A missing document
// or schema violation is a startup error.
func Load(path string) (*Keymap, error) {
	candidates := candidatePaths(path)

	for _, p := range candidates {
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read keymap %s: %w", p, err)
		}
		km, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("keymap %s: %w", p, err)
		}
		return km, nil
	}

	return nil, fmt.Errorf("keymap.json not found; tried:\n  - %s\nset KEYMAP_PATH or keymap_path to an absolute file path",
		strings.Join(candidates, "\n  - "))
}

func candidatePaths(path string) []string {
	var candidates []string
	if path != "" {
		candidates = append(candidates, path)
	}
	if env := strings.TrimSpace(os.Getenv("KEYMAP_PATH")); env != "" {
		candidates = append(candidates, env)
	}
	if p, err := xdg.SearchConfigFile(filepath.Join("remotehub", "keymap.json")); err == nil {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, "keymap.json")
	return candidates
}

// Parse validates the raw document. Fail-fast contract: any schema
// violation is reported with the offending activity/key named, and no
// partially valid keymap is ever returned.
func Parse(data []byte) (*Keymap, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	rawScan, ok := doc["scancode_map"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema invalid: expected top-level scancode_map object")
	}
	rawActs, ok := doc["activities"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema invalid: expected top-level activities object")
	}

	km := &Keymap{
		scancodes:  make(map[string]string, len(rawScan)),
		activities: make(map[string]map[string][]Action, len(rawActs)),
	}

	for raw, logical := range rawScan {
		s, ok := logical.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("scancode_map[%q]: value must be a non-empty string", raw)
		}
		km.scancodes[raw] = s
	}

	for activity, rawKeys := range rawActs {
		keys, ok := rawKeys.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("activity %q: must be an object of key bindings", activity)
		}
		km.activities[activity] = make(map[string][]Action, len(keys))

		for key, rawList := range keys {
			list, ok := rawList.([]any)
			if !ok {
				return nil, fmt.Errorf("activity %q key %q: bindings must be a list", activity, key)
			}
			actions := make([]Action, 0, len(list))
			for i, rawAction := range list {
				loc := fmt.Sprintf("activity %q key %q action %d", activity, key, i)
				a, err := parseAction(rawAction, loc)
				if err != nil {
					return nil, err
				}
				actions = append(actions, a)
			}
			km.activities[activity][key] = actions
		}
	}

	return km, nil
}

// Scancodes returns the raw→logical key table. Raw identifiers are
// either KEY_* symbolic names or decimal scan-code strings.
func (k *Keymap) Scancodes() map[string]string {
	return k.scancodes
}

// Actions returns the ordered binding list for a key in an activity,
// or nil when unbound.
func (k *Keymap) Actions(activity, key string) []Action {
	return k.activities[activity][key]
}

// ActivityCount and ScancodeCount feed the load summary log line.
func (k *Keymap) ActivityCount() int { return len(k.activities) }
func (k *Keymap) ScancodeCount() int { return len(k.scancodes) }
