package main

import (
	"context"
	"log/slog"

	"github.com/llehouerou/remotehub/internal/ble"
	"github.com/llehouerou/remotehub/internal/validate"
)

// interDelayWhitelist allows the 400ms macro gap on top of the shared
// timing list.
var interDelayWhitelist = append(append([]int{}, validate.DefaultMsWhitelist...), 400)

// makeCommandHandler routes inbound command events from the bus.
// Exactly two shapes are accepted:
//
//	{"text": "ble_key", "usage": "keyboard"|"consumer", "code": "...", "hold_ms": 40}
//	{"text": "macro", "name": "...", "tap_ms": 40, "inter_delay_ms": 400}
//
// Unknown texts are dropped silently; commands with unparseable timing
// fields are dropped with a warning. Each command runs on its own
// goroutine so macro sleeps never stall the bus read loop.
func makeCommandHandler(ctx context.Context, hid *ble.Client, logger *slog.Logger) func(map[string]any) {
	logger = logger.With("component", "cmd")

	return func(data map[string]any) {
		text, _ := data["text"].(string)
		switch text {
		case "ble_key":
			usage, _ := data["usage"].(string)
			code, _ := data["code"].(string)
			if usage == "" || code == "" {
				return
			}
			hold, ok := validate.MsWhitelist(data["hold_ms"], nil, 40, "cmd.hold_ms", logger)
			if !ok {
				logger.Warn("dropping command", "text", text)
				return
			}
			go hid.SendKey(ctx, usage, code, hold)

		case "macro":
			name, _ := data["name"].(string)
			steps := ble.Macros[name]
			if len(steps) == 0 {
				return
			}
			tap, ok := validate.MsWhitelist(data["tap_ms"], nil, 40, "cmd.tap_ms", logger)
			if !ok {
				logger.Warn("dropping command", "text", text, "name", name)
				return
			}
			inter, ok := validate.MsWhitelist(data["inter_delay_ms"], interDelayWhitelist,
				400, "cmd.inter_delay_ms", logger)
			if !ok {
				logger.Warn("dropping command", "text", text, "name", name)
				return
			}
			go hid.RunMacro(ctx, steps, tap, inter)
		}
	}
}
