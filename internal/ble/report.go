package ble

import "encoding/binary"

const maxRollover = 6

// keyboardState tracks held keys and modifiers and renders the 8-byte
// report frame: [modifiers, reserved, key1..key6]. Not safe for
// concurrent use; the Client serializes access.
type keyboardState struct {
	mods byte
	keys []byte // held usage IDs in press order, capped at maxRollover
}

func (s *keyboardState) press(key, mod byte) {
	s.mods |= mod
	if key == 0 {
		return
	}
	for _, k := range s.keys {
		if k == key {
			return
		}
	}
	if len(s.keys) < maxRollover {
		s.keys = append(s.keys, key)
	}
}

func (s *keyboardState) release(key, mod byte) {
	s.mods &^= mod
	if key == 0 {
		return
	}
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return
		}
	}
}

func (s *keyboardState) releaseAll() {
	s.mods = 0
	s.keys = s.keys[:0]
}

func (s *keyboardState) report() []byte {
	rep := make([]byte, 8)
	rep[0] = s.mods
	copy(rep[2:], s.keys)
	return rep
}

// consumerReport renders the 2-byte little-endian consumer slot; usage
// zero is the release frame.
func consumerReport(usage uint16) []byte {
	rep := make([]byte, 2)
	binary.LittleEndian.PutUint16(rep, usage)
	return rep
}
