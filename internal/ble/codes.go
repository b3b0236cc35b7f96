package ble

// Symbolic key names map onto HID usage IDs from the USB HID Usage
// Tables. Keyboard codes live on usage page 0x07, consumer codes on
// page 0x0C. The consumer report is a 16-bit array slot with a logical
// maximum of 0x03FF, so every consumer usage here must fit that range.

// Modifier bits for the first byte of a keyboard report.
var keyboardModifiers = map[string]byte{
	"MOD_LCTRL":  0x01,
	"MOD_LSHIFT": 0x02,
	"MOD_LALT":   0x04,
	"MOD_LMETA":  0x08,
	"MOD_RCTRL":  0x10,
	"MOD_RSHIFT": 0x20,
	"MOD_RALT":   0x40,
	"MOD_RMETA":  0x80,
}

var keyboardUsages = map[string]byte{
	"A": 0x04, "B": 0x05, "C": 0x06, "D": 0x07, "E": 0x08, "F": 0x09,
	"G": 0x0A, "H": 0x0B, "I": 0x0C, "J": 0x0D, "K": 0x0E, "L": 0x0F,
	"M": 0x10, "N": 0x11, "O": 0x12, "P": 0x13, "Q": 0x14, "R": 0x15,
	"S": 0x16, "T": 0x17, "U": 0x18, "V": 0x19, "W": 0x1A, "X": 0x1B,
	"Y": 0x1C, "Z": 0x1D,

	"1": 0x1E, "2": 0x1F, "3": 0x20, "4": 0x21, "5": 0x22,
	"6": 0x23, "7": 0x24, "8": 0x25, "9": 0x26, "0": 0x27,

	"ENTER":     0x28,
	"ESC":       0x29,
	"BACKSPACE": 0x2A,
	"TAB":       0x2B,
	"SPACE":     0x2C,
	"MINUS":     0x2D,
	"EQUAL":     0x2E,
	"COMMA":     0x36,
	"DOT":       0x37,
	"SLASH":     0x38,

	"RIGHT": 0x4F,
	"LEFT":  0x50,
	"DOWN":  0x51,
	"UP":    0x52,
}

var consumerUsages = map[string]uint16{
	"POWER":      0x0030,
	"SLEEP":      0x0032,
	"MENU":       0x0040,
	"PLAY":       0x00B0,
	"PAUSE":      0x00B1,
	"FFWD":       0x00B3,
	"REWIND":     0x00B4,
	"NEXT_TRACK": 0x00B5,
	"PREV_TRACK": 0x00B6,
	"STOP":       0x00B7,
	"EJECT":      0x00B8,
	"PLAY_PAUSE": 0x00CD,
	"MUTE":       0x00E2,
	"VOL_UP":     0x00E9,
	"VOL_DOWN":   0x00EA,
	"AC_SEARCH":  0x0221,
	"AC_HOME":    0x0223,
	"AC_BACK":    0x0224,
}

// KeyboardUsage resolves a symbolic keyboard code to its usage ID and
// modifier bit. A plain key reports mod=0; a MOD_* name reports key=0.
func KeyboardUsage(code string) (key byte, mod byte, ok bool) {
	if m, found := keyboardModifiers[code]; found {
		return 0, m, true
	}
	k, found := keyboardUsages[code]
	return k, 0, found
}

// ConsumerUsage resolves a symbolic consumer-control code.
func ConsumerUsage(code string) (uint16, bool) {
	u, ok := consumerUsages[code]
	return u, ok
}
