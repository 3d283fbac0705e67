// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/lora_tracker/internal/position"
)

// MaxAccurateHDOP is the horizontal dilution above which a fix is reported
// as not accurate.
const MaxAccurateHDOP = 5.0

// Fix represents the relay's own GPS state, combined from RMC and GGA.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "23/03/94"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)
	Quality    string  `json:"quality"`     // GGA fix quality, "" until seen
	Satellites int64   `json:"satellites"`
	HDOP       float64 `json:"hdop"`
}

// Valid reports whether the receiver currently has a usable position.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// Accurate uses GGA quality when it has been seen, RMC validity otherwise.
func (f Fix) Accurate() bool {
	if !f.Valid() {
		return false
	}
	if f.Quality == "" {
		return true
	}
	return (f.Quality == nmea.GPS || f.Quality == nmea.DGPS) && f.HDOP <= MaxAccurateHDOP
}

// Record converts the fix to millionths of a degree for callsign.
func (f Fix) Record(callsign string) position.Record {
	return position.Record{
		Callsign:   callsign,
		Lat:        int32(math.Round(f.Latitude * 1e6)),
		Long:       int32(math.Round(f.Longitude * 1e6)),
		IsAccurate: f.Accurate(),
	}
}

// Apply folds one NMEA line into f. It returns true when the line was an
// RMC or GGA sentence. Other sentence types are ignored.
func (f *Fix) Apply(line string) (bool, error) {
	line = strings.TrimSpace(line)
	// NMEA sentences usually start with '$'
	if !strings.HasPrefix(line, "$") {
		return false, nil
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return false, fmt.Errorf("parse NMEA %q: %w", line, err)
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		f.Time = m.Time.String()
		f.Date = m.Date.String()
		f.Validity = m.Validity
		if m.Validity == nmea.ValidRMC {
			f.Latitude = m.Latitude
			f.Longitude = m.Longitude
		}
		f.SpeedKnots = m.Speed
		f.CourseDeg = m.Course
		return true, nil

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		f.Quality = m.FixQuality
		f.Satellites = m.NumSatellites
		f.HDOP = m.HDOP
		return true, nil

	default:
		// GSA, GSV, VTG and friends carry nothing we relay
		return false, nil
	}
}
