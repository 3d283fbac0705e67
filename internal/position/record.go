// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"strings"
	"time"
	"unicode/utf8"
)

// CallsignSize is the number of bytes a callsign occupies on the radio link.
const CallsignSize = 4

// Record is a single position report for one callsign.
// Lat and Long are millionths of a degree (WGS 84).
type Record struct {
	Callsign   string
	Lat        int32
	Long       int32
	IsAccurate bool
}

// Stored is a Record plus the time it was last written.
type Stored struct {
	Record
	Updated time.Time
}

// Age returns how old the entry is at now. Never negative.
func (s Stored) Age(now time.Time) time.Duration {
	age := now.Sub(s.Updated)
	if age < 0 {
		return 0
	}
	return age
}

// NormalizeCallsign returns the callsign exactly as it will read back after a
// trip over the radio: cut to CallsignSize bytes on a rune boundary, with
// padding (NUL and trailing whitespace) removed.
func NormalizeCallsign(s string) string {
	if len(s) > CallsignSize {
		n := CallsignSize
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.TrimRight(s, "\x00 \t\r\n")
}

// Normalized returns a copy of r with its callsign normalized.
func (r Record) Normalized() Record {
	r.Callsign = NormalizeCallsign(r.Callsign)
	return r
}
