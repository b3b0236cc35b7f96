package ble

// Macros are named key sequences playable from the command bus. Kept
// local so the automation side only needs a name, not HID knowledge.
var Macros = map[string][]MacroStep{
	// Wake the TV: any consumer usage wakes a sleeping central, then
	// land on the home screen.
	"power_on": {
		{Usage: "consumer", Code: "MENU"},
		{Usage: "consumer", Code: "AC_HOME"},
	},
	// A long POWER press opens the sleep dialog; SELECT confirms it.
	"power_off": {
		{Usage: "consumer", Code: "POWER", HoldMs: 1000},
		{Usage: "keyboard", Code: "ENTER"},
	},
	"play_pause": {
		{Usage: "consumer", Code: "PLAY_PAUSE"},
	},
	"go_home": {
		{Usage: "consumer", Code: "AC_HOME"},
	},
	"mute_toggle": {
		{Usage: "consumer", Code: "MUTE"},
	},
}
