// Package validate checks millisecond timing values arriving from
// configuration or from runtime commands. Bad values are never fatal:
// they are logged and replaced with the caller's default.
package validate

import (
	"log/slog"
	"strconv"
)

// DefaultMsWhitelist is the allow-list for timing fields on inbound
// commands. Commands are remote input; pinning them to known-good
// values keeps a misbehaving sender from scheduling pathological
// delays.
var DefaultMsWhitelist = []int{0, 20, 40, 60, 80, 100, 150, 200, 250, 300, 500, 750, 1000}

// Ms parses a permissive millisecond value (number or decimal string).
// Invalid or negative values log a warning and return def.
func Ms(v any, def int, context string, logger *slog.Logger) int {
	if v == nil {
		return def
	}
	ms, ok := toInt(v)
	if !ok || ms < 0 {
		logger.Warn("invalid ms value, using default", "context", context, "value", v, "default", def)
		return def
	}
	return ms
}

// MsWhitelist parses a millisecond value and additionally requires it
// to be on the allow-list. allowed nil means DefaultMsWhitelist.
//
// An unparseable value returns ok=false so the caller can drop the
// whole command rather than run it with a guessed timing. A parseable
// value that is simply not on the list falls back to def.
func MsWhitelist(v any, allowed []int, def int, context string, logger *slog.Logger) (int, bool) {
	if v == nil {
		return def, true
	}
	if allowed == nil {
		allowed = DefaultMsWhitelist
	}
	ms, ok := toInt(v)
	if !ok {
		logger.Warn("invalid ms value", "context", context, "value", v)
		return 0, false
	}
	for _, a := range allowed {
		if ms == a {
			return ms, true
		}
	}
	logger.Warn("non-whitelisted ms value, using default", "context", context, "value", ms, "default", def)
	return def, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
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
