// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/lora_tracker/internal/config"
	"github.com/relabs-tech/lora_tracker/internal/gps"
	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/mirror"
	"github.com/relabs-tech/lora_tracker/internal/relay"
	"github.com/relabs-tech/lora_tracker/internal/wan"
)

// Relay is a fully wired relay: both transports, the engine and every
// optional extra the config enables.
type Relay struct {
	Engine *relay.Engine
	LAN    *lan.Conn
	WAN    wan.Link
	GPS    *gps.Source

	cfg     *config.Config
	log     *zap.Logger
	hub     *Hub
	display *StatusDisplay
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// BuildRelay opens everything cfg asks for. On error whatever was already
// opened is closed again.
func BuildRelay(cfg *config.Config, log *zap.Logger) (r *Relay, err error) {
	r = &Relay{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			err = multierr.Append(err, r.Close())
			r = nil
		}
	}()

	// ---- 1) LAN socket ----
	r.LAN, err = lan.Listen(fmt.Sprintf(":%d", cfg.LANPort), log.Named("lan"))
	if err != nil {
		return r, err
	}
	r.addCloser("lan", r.LAN.Close)

	// ---- 2) Radio link ----
	switch cfg.WANMode {
	case config.WANModeSerial:
		r.WAN, err = wan.OpenSerial(wan.SerialOptions{
			PortName: cfg.WANSerialPort,
			BaudRate: uint(cfg.WANBaudRate),
		}, log.Named("wan"))
	case config.WANModeUDP:
		r.WAN, err = wan.ListenUDP(cfg.WANUDPListen, cfg.WANUDPPeer, log.Named("wan"))
	default:
		err = fmt.Errorf("unknown WAN mode %q", cfg.WANMode)
	}
	if err != nil {
		return r, err
	}
	r.addCloser("wan", r.WAN.Close)

	opts := relay.Options{
		PositionTTL: cfg.PositionTTL,
		ClientTTL:   cfg.ClientTTL,
		Interval:    cfg.CycleInterval,
		Logger:      log,
	}

	// ---- 3) Own GPS ----
	if cfg.GPSSerialPort != "" {
		r.GPS, err = gps.Open(gps.Options{
			PortName: cfg.GPSSerialPort,
			BaudRate: uint(cfg.GPSBaudRate),
			Callsign: cfg.SelfCallsign,
			Interval: cfg.SelfInterval,
		}, log.Named("gps"))
		if err != nil {
			return r, err
		}
		r.addCloser("gps", r.GPS.Close)
		opts.Self = r.GPS
	}

	// ---- 4) Observers ----
	if cfg.MQTTBroker != "" {
		var client mqtt.Client
		client, err = mirror.Connect(cfg.MQTTBroker, cfg.MQTTClientID, log.Named("mqtt"))
		if err != nil {
			return r, err
		}
		r.addCloser("mqtt", func() error {
			client.Disconnect(250)
			return nil
		})
		opts.Observers = append(opts.Observers, mirror.New(client, cfg.TopicPositions, log))
	}

	if cfg.WebServerPort > 0 {
		r.hub = NewHub(log)
		r.addCloser("ws", func() error {
			r.hub.Close()
			return nil
		})
		opts.Observers = append(opts.Observers, r.hub)
	}

	if cfg.DisplayI2CAddr != 0 {
		var closeBus func() error
		r.display, closeBus, err = OpenDisplay(cfg.DisplayI2CBus, cfg.DisplayI2CAddr, log)
		if err != nil {
			return r, err
		}
		r.addCloser("display", closeBus)
		opts.Observers = append(opts.Observers, r.display)
	}

	if cfg.ActivityLEDPin != "" {
		var led *ActivityLED
		led, err = OpenActivityLED(cfg.ActivityLEDPin, log)
		if err != nil {
			return r, err
		}
		r.addCloser("led", led.Off)
		opts.Observers = append(opts.Observers, led)
	}

	r.Engine = relay.New(r.LAN, r.WAN, opts)
	return r, nil
}

func (r *Relay) addCloser(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name, fn})
}

// Run drives the engine and the web and display loops until ctx is done or
// one of them fails.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.Engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("relay loop: %w", err)
		}
		return nil
	})

	if r.hub != nil {
		handler := NewWebHandler(r.Engine, r.hub, r.log.Named("web"))
		g.Go(func() error {
			return RunWeb(gctx, r.cfg.WebServerPort, handler, r.log.Named("web"))
		})
	}

	if r.display != nil {
		g.Go(func() error {
			return r.display.Run(gctx, r.cfg.DisplayUpdateInterval)
		})
	}

	if r.GPS != nil {
		g.Go(func() error {
			select {
			case <-r.GPS.Done():
				r.log.Warn("GPS stream ended, own position no longer updated")
			case <-gctx.Done():
			}
			return nil
		})
	}

	return g.Wait()
}

// Close releases everything in reverse opening order.
func (r *Relay) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if cerr := c.fn(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.name, cerr))
		}
	}
	r.closers = nil
	return err
}

// RunRelay builds the relay from cfg and runs it until ctx is done.
func RunRelay(ctx context.Context, cfg *config.Config, log *zap.Logger) (err error) {
	r, err := BuildRelay(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, r.Close())
	}()

	log.Info("relay running",
		zap.Int("lan_port", cfg.LANPort),
		zap.String("wan_mode", cfg.WANMode))
	return r.Run(ctx)
}
