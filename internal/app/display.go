// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/lora_tracker/internal/relay"
)

const (
	displayWidth  = 128
	displayHeight = 64
)

// Screen is the part of *ssd1306.Dev the status display draws on.
type Screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// DisplayData holds what the status screen shows.
type DisplayData struct {
	Cycle      uint64
	Positions  int
	Clients    int
	LastHeard  string
	LANPackets uint64
	WANPackets uint64
	Seen       bool
}

// StatusDisplay keeps the latest cycle report and redraws the OLED on its
// own schedule, so observing a cycle never touches the I2C bus.
type StatusDisplay struct {
	screen Screen
	log    *zap.Logger

	mu   sync.Mutex
	data DisplayData
}

// OpenDisplay initializes periph and the SSD1306 at addr on bus ("" picks
// the first bus). The returned closer releases the bus.
func OpenDisplay(bus string, addr uint16, log *zap.Logger) (*StatusDisplay, func() error, error) {
	// Initialize periph
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I2C bus %q: %w", bus, err)
	}

	dev, err := newSSD1306(b, addr)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	log.Info("display initialized", zap.String("addr", fmt.Sprintf("0x%02X", addr)))

	d := NewStatusDisplay(dev, log)
	if err := d.splash(); err != nil {
		log.Warn("display splash failed", zap.Error(err))
	}
	return d, b.Close, nil
}

func newSSD1306(b i2c.Bus, addr uint16) (*ssd1306.Dev, error) {
	opts := ssd1306.DefaultOpts
	opts.Addr = addr
	dev, err := ssd1306.NewI2C(b, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize display at 0x%02X: %w", addr, err)
	}
	return dev, nil
}

func NewStatusDisplay(screen Screen, log *zap.Logger) *StatusDisplay {
	return &StatusDisplay{screen: screen, log: log.Named("display")}
}

// ObserveCycle records the counters of the finished cycle.
func (d *StatusDisplay) ObserveCycle(r relay.CycleReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data.Cycle = r.Cycle
	d.data.Positions = r.Positions
	d.data.Clients = r.Clients
	d.data.LANPackets = r.Stats.LANReceived
	d.data.WANPackets = r.Stats.WANReceived
	d.data.Seen = true
	if n := len(r.Updates); n > 0 {
		d.data.LastHeard = r.Updates[n-1].Callsign
	}
}

// Snapshot returns the data the next redraw would show.
func (d *StatusDisplay) Snapshot() DisplayData {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// Run redraws every interval until ctx is done.
func (d *StatusDisplay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info("starting update loop", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Refresh(); err != nil {
				d.log.Warn("display update failed", zap.Error(err))
			}
		}
	}
}

// Refresh draws the current snapshot once.
func (d *StatusDisplay) Refresh() error {
	img := renderStatus(d.Snapshot())
	return d.screen.Draw(d.screen.Bounds(), img, image.Point{})
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(drawer *font.Drawer, x, y int, s string) {
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(s)
}

func renderStatus(data DisplayData) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	if !data.Seen {
		drawLine(drawer, 0, 26, "LoRa relay")
		drawLine(drawer, 0, 39, "Waiting...")
		return img
	}

	last := data.LastHeard
	if last == "" {
		last = "-"
	}
	drawLine(drawer, 0, 13, fmt.Sprintf("Pos:%3d Cli:%3d", data.Positions, data.Clients))
	drawLine(drawer, 0, 26, "Last: "+last)
	drawLine(drawer, 0, 39, fmt.Sprintf("LAN:%d", data.LANPackets))
	drawLine(drawer, 0, 52, fmt.Sprintf("WAN:%d", data.WANPackets))
	return img
}

func (d *StatusDisplay) splash() error {
	img, drawer := newCanvas()

	drawLine(drawer, 20, 26, "LoRa relay")
	drawLine(drawer, 5, 43, "Listening on")
	drawLine(drawer, 25, 56, "LAN+WAN")

	return d.screen.Draw(d.screen.Bounds(), img, image.Point{})
}
