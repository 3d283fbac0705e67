// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gps reads the relay's own GPS receiver so the relay can announce
// its position like any other node.
package gps

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/position"
)

// Source tracks the latest fix from an NMEA stream.
type Source struct {
	callsign string
	interval time.Duration
	port     io.ReadCloser
	log      *zap.Logger

	mu       sync.Mutex
	fix      Fix
	lastSent time.Time
	done     chan struct{}
}

// Options configures a Source.
type Options struct {
	PortName string
	BaudRate uint
	Callsign string
	Interval time.Duration // minimum gap between two emitted records
}

// Open opens the GPS serial port and starts parsing.
func Open(opts Options, log *zap.Logger) (*Source, error) {
	// NOTE: PortName is /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("open GPS serial port %s: %w", opts.PortName, err)
	}
	log.Info("GPS serial port opened", zap.String("port", opts.PortName), zap.Uint("baud", opts.BaudRate))
	return NewSource(port, opts.Callsign, opts.Interval, log), nil
}

// NewSource parses NMEA lines from r until it fails or is closed.
func NewSource(r io.ReadCloser, callsign string, interval time.Duration, log *zap.Logger) *Source {
	s := &Source{
		callsign: position.NormalizeCallsign(callsign),
		interval: interval,
		port:     r,
		log:      log,
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Source) readLoop() {
	defer close(s.done)
	reader := bufio.NewReader(s.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.log.Info("GPS stream ended", zap.Error(err))
			return
		}
		s.mu.Lock()
		_, err = s.fix.Apply(line)
		s.mu.Unlock()
		if err != nil {
			// noisy GPS or partial sentences
			s.log.Debug("NMEA parse error", zap.Error(err))
		}
	}
}

// Fix returns a copy of the current fix.
func (s *Source) Fix() Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix
}

// TryNext returns the relay's own position when the fix is valid and at
// least the configured interval has passed since the previous one.
func (s *Source) TryNext(now time.Time) (position.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fix.Valid() {
		return position.Record{}, false
	}
	if !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.interval {
		return position.Record{}, false
	}
	s.lastSent = now
	return s.fix.Record(s.callsign), true
}

// Close releases the serial port.
func (s *Source) Close() error {
	return s.port.Close()
}

// Done is closed when the reader has stopped.
func (s *Source) Done() <-chan struct{} {
	return s.done
}
