// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"time"

	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/position"
)

// LANClient speaks the relay's LAN protocol the way the phone app does.
type LANClient struct {
	conn  *net.UDPConn
	relay *net.UDPAddr
}

// DialLAN opens a local socket for talking to the relay at addr.
func DialLAN(addr string) (*LANClient, error) {
	ra, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve relay address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open client socket: %w", err)
	}
	return &LANClient{conn: conn, relay: ra}, nil
}

func (c *LANClient) Close() error { return c.conn.Close() }

// PosUpdate reports rec to the relay.
func (c *LANClient) PosUpdate(rec position.Record) error {
	_, err := c.conn.WriteToUDP(lan.EncodePosUpdate(rec), c.relay)
	return err
}

// GetAll asks for every fresh position and collects answers until nothing
// arrives for wait.
func (c *LANClient) GetAll(wait time.Duration) ([]lan.Position, error) {
	if err := c.SendGetAll(); err != nil {
		return nil, err
	}
	return c.Listen(wait, nil)
}

// SendGetAll sends a getall without waiting. It also registers the client
// for broadcasts.
func (c *LANClient) SendGetAll() error {
	_, err := c.conn.WriteToUDP(lan.EncodeGetAll(), c.relay)
	return err
}

// Listen collects positions until nothing arrives for wait. Each one is
// also passed to each, if set.
func (c *LANClient) Listen(wait time.Duration, each func(lan.Position)) ([]lan.Position, error) {
	var out []lan.Position
	buf := make([]byte, 1500)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return out, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return out, nil
			}
			return out, err
		}
		p, err := lan.DecodePosition(buf[:n])
		if err != nil {
			continue
		}
		out = append(out, p)
		if each != nil {
			each(p)
		}
	}
}

// ErrCoordinateRange is returned for degrees outside the valid lat/long range.
var ErrCoordinateRange = errors.New("coordinate out of range")

// RecordFromDegrees builds a record from decimal degrees, rejecting values
// that would not fit the microdegree fields.
func RecordFromDegrees(callsign string, lat, long float64, accurate bool) (position.Record, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return position.Record{}, fmt.Errorf("%w: lat %v", ErrCoordinateRange, lat)
	}
	if math.IsNaN(long) || long < -180 || long > 180 {
		return position.Record{}, fmt.Errorf("%w: long %v", ErrCoordinateRange, long)
	}
	return position.Record{
		Callsign:   callsign,
		Lat:        int32(math.Round(lat * 1e6)),
		Long:       int32(math.Round(long * 1e6)),
		IsAccurate: accurate,
	}, nil
}

// PrintPosition writes one line per position.
func PrintPosition(w io.Writer, p lan.Position) {
	age := "live"
	if p.Age != nil {
		age = fmt.Sprintf("%.0fs", *p.Age)
	}
	acc := "coarse"
	if p.IsAccurate {
		acc = "accurate"
	}
	fmt.Fprintf(w, "%-4s %11.6f %11.6f %-8s %s\n",
		p.Callsign, float64(p.Lat)/1e6, float64(p.Long)/1e6, acc, age)
}
