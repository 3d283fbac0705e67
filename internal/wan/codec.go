// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package wan handles the radio side of the relay: the fixed-size position
// frame and the links that carry it.
package wan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/relabs-tech/lora_tracker/internal/position"
)

// Frame layout, little endian:
//
//	0  header     4 bytes, written by the radio driver, ignored
//	4  magic      0x2c 0x0b
//	6  callsign   4 bytes UTF-8, NUL padded
//	10 latitude   int32, millionths of a degree
//	14 longitude  int32, millionths of a degree
//	18 accurate   1 byte
const (
	FrameSize = 19

	Magic1 byte = 0x2c
	Magic2 byte = 0x0b

	offMagic    = 4
	offCallsign = 6
	offLat      = offCallsign + position.CallsignSize
	offLong     = offLat + 4
	offAccurate = offLong + 4
)

var (
	ErrSizeMismatch = errors.New("wan: frame size mismatch")
	ErrBadMagic     = errors.New("wan: bad magic")
)

// Encode packs rec into a frame. The callsign is truncated or NUL padded to
// fit; the header is left zero.
func Encode(rec position.Record) []byte {
	buf := make([]byte, FrameSize)
	buf[offMagic] = Magic1
	buf[offMagic+1] = Magic2
	copy(buf[offCallsign:offLat], position.NormalizeCallsign(rec.Callsign))
	binary.LittleEndian.PutUint32(buf[offLat:], uint32(rec.Lat))
	binary.LittleEndian.PutUint32(buf[offLong:], uint32(rec.Long))
	if rec.IsAccurate {
		buf[offAccurate] = 1
	}
	return buf
}

// Decode unpacks a frame received from the radio.
func Decode(b []byte) (position.Record, error) {
	if len(b) != FrameSize {
		return position.Record{}, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(b), FrameSize)
	}
	if b[offMagic] != Magic1 || b[offMagic+1] != Magic2 {
		return position.Record{}, fmt.Errorf("%w: saw 0x%02x 0x%02x", ErrBadMagic, b[offMagic], b[offMagic+1])
	}
	return position.Record{
		Callsign:   position.NormalizeCallsign(string(b[offCallsign:offLat])),
		Lat:        int32(binary.LittleEndian.Uint32(b[offLat:])),
		Long:       int32(binary.LittleEndian.Uint32(b[offLong:])),
		IsAccurate: b[offAccurate] != 0,
	}, nil
}
