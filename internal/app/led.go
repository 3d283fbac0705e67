// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/lora_tracker/internal/relay"
)

// ActivityLED is lit for cycles that relayed at least one update.
type ActivityLED struct {
	pin gpio.PinOut
	log *zap.Logger

	mu  sync.Mutex
	lit gpio.Level
}

// OpenActivityLED looks up name (e.g. "GPIO17") and switches it off.
func OpenActivityLED(name string, log *zap.Logger) (*ActivityLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("activity LED: periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("activity LED: pin %q not found", name)
	}
	led, err := NewActivityLED(p, log)
	if err != nil {
		return nil, err
	}
	log.Info("activity LED ready", zap.String("pin", name))
	return led, nil
}

func NewActivityLED(pin gpio.PinOut, log *zap.Logger) (*ActivityLED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("activity LED: %s: %w", pin, err)
	}
	return &ActivityLED{pin: pin, log: log.Named("led"), lit: gpio.Low}, nil
}

// ObserveCycle only writes the pin when the level changes.
func (l *ActivityLED) ObserveCycle(r relay.CycleReport) {
	level := gpio.Level(len(r.Updates) > 0)

	l.mu.Lock()
	defer l.mu.Unlock()
	if level == l.lit {
		return
	}
	if err := l.pin.Out(level); err != nil {
		l.log.Warn("activity LED write failed", zap.Error(err))
		return
	}
	l.lit = level
}

// Off switches the LED off.
func (l *ActivityLED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lit = gpio.Low
	return l.pin.Out(gpio.Low)
}
