// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/relabs-tech/lora_tracker/internal/position"
	"github.com/relabs-tech/lora_tracker/internal/relay"
)

type countingPin struct {
	*gpiotest.Pin
	writes int
}

func (p *countingPin) Out(l gpio.Level) error {
	p.writes++
	return p.Pin.Out(l)
}

func TestActivityLED_FollowsTraffic(t *testing.T) {
	pin := &countingPin{Pin: &gpiotest.Pin{N: "GPIO17", L: gpio.High}}
	led, err := NewActivityLED(pin, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, pin.Read(), "starts off")
	assert.Equal(t, 1, pin.writes)

	busy := relay.CycleReport{Updates: []position.Record{{Callsign: "ABCD"}}}
	idle := relay.CycleReport{}

	led.ObserveCycle(busy)
	assert.Equal(t, gpio.High, pin.Read())
	led.ObserveCycle(busy)
	assert.Equal(t, 2, pin.writes, "unchanged level is not rewritten")

	led.ObserveCycle(idle)
	assert.Equal(t, gpio.Low, pin.Read())
	led.ObserveCycle(idle)
	assert.Equal(t, 3, pin.writes)

	led.ObserveCycle(busy)
	require.NoError(t, led.Off())
	assert.Equal(t, gpio.Low, pin.Read())
}
