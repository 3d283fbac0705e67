// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package relay runs the polling loop that moves position reports between
// the radio link and the local network.
//
// Every cycle runs the same steps in the same order:
//
//	DrainLAN  answer getall, store and queue posupdate
//	SendWAN   transmit everything queued so far on the radio
//	DrainWAN  store and queue frames heard on the radio
//	SendLAN   broadcast everything queued to registered clients
//	Sleep     notify observers, clear the queue, wait one interval
//
// A LAN update therefore reaches the radio in the cycle it arrived, and a
// radio frame reaches LAN clients in the cycle it arrived.
package relay

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/clients"
	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/position"
	"github.com/relabs-tech/lora_tracker/internal/transport"
	"github.com/relabs-tech/lora_tracker/internal/wan"
)

// DefaultInterval is the pause between two cycles.
const DefaultInterval = 50 * time.Millisecond

// LANConn is the local network socket.
type LANConn interface {
	TryRecv() (transport.Datagram, bool)
	SendTo(payload []byte, addr netip.AddrPort) error
}

// SelfSource provides the relay's own position, if it has a GPS.
type SelfSource interface {
	TryNext(now time.Time) (position.Record, bool)
}

// Observer is told about every finished cycle. ObserveCycle runs on the
// relay goroutine and must return quickly.
type Observer interface {
	ObserveCycle(CycleReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(CycleReport)

func (f ObserverFunc) ObserveCycle(r CycleReport) { f(r) }

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	PositionTTL time.Duration
	ClientTTL   time.Duration
	Interval    time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
	Self        SelfSource
	Observers   []Observer
}

// Engine owns the position store, the client registry and the per-cycle
// queue of updates.
type Engine struct {
	lan  LANConn
	wan  wan.Link
	self SelfSource

	positionTTL time.Duration
	clientTTL   time.Duration
	interval    time.Duration
	clock       clock.Clock
	log         *zap.Logger

	// mu serializes cycles against status readers.
	mu        sync.Mutex
	positions *position.Store
	clients   *clients.Registry
	pending   []position.Record
	stats     Stats
	lastHeard string

	state     atomic.Int32
	observers []Observer
}

// New builds an engine around two ready transports.
func New(lanConn LANConn, wanLink wan.Link, opts Options) *Engine {
	e := &Engine{
		lan:         lanConn,
		wan:         wanLink,
		self:        opts.Self,
		positionTTL: opts.PositionTTL,
		clientTTL:   opts.ClientTTL,
		interval:    opts.Interval,
		clock:       opts.Clock,
		log:         opts.Logger,
		positions:   position.NewStore(),
		clients:     clients.NewRegistry(),
		observers:   slices.Clone(opts.Observers),
	}
	if e.positionTTL <= 0 {
		e.positionTTL = position.DefaultTTL
	}
	if e.clientTTL <= 0 {
		e.clientTTL = clients.DefaultTTL
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.Named("relay")
	return e
}

// Run loops until ctx is done. A cycle that has started always completes.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("relay loop started",
		zap.Duration("interval", e.interval),
		zap.Duration("position_ttl", e.positionTTL),
		zap.Duration("client_ttl", e.clientTTL))
	for {
		e.RunCycle()
		select {
		case <-ctx.Done():
			e.setState(StateIdle)
			e.log.Info("relay loop stopped", zap.Uint64("cycles", e.Status().Stats.Cycles))
			return ctx.Err()
		case <-e.clock.After(e.interval):
			e.setState(StateIdle)
		}
	}
}

// RunCycle performs one full cycle without the trailing sleep and returns
// what it did.
func (e *Engine) RunCycle() CycleReport {
	report := e.cycle()
	for _, o := range e.observers {
		o.ObserveCycle(report)
	}
	return report
}

func (e *Engine) cycle() CycleReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setState(StateDrainLAN)
	e.drainLAN()

	e.setState(StateSendWAN)
	e.sendWAN()

	e.setState(StateDrainWAN)
	e.drainWAN()

	e.setState(StateSendLAN)
	e.sendLAN()

	e.setState(StateSleep)
	e.stats.Cycles++
	report := CycleReport{
		Cycle:     e.stats.Cycles,
		Time:      e.clock.Now(),
		Updates:   slices.Clone(e.pending),
		Stats:     e.stats,
		Positions: e.positions.Len(),
		Clients:   e.clients.Len(),
	}
	e.pending = e.pending[:0]
	return report
}

func (e *Engine) drainLAN() {
	for {
		dg, ok := e.lan.TryRecv()
		if !ok {
			break
		}
		e.handleLAN(dg)
	}
	if e.self == nil {
		return
	}
	now := e.clock.Now()
	if rec, ok := e.self.TryNext(now); ok {
		e.log.Debug("own position", zap.String("callsign", rec.Callsign))
		e.accept(rec.Normalized(), now)
	}
}

func (e *Engine) handleLAN(dg transport.Datagram) {
	e.stats.LANReceived++
	req, err := lan.DecodeRequest(dg.Payload)
	if err != nil {
		e.stats.LANDecodeErrors++
		e.log.Warn("discarding LAN message", zap.Stringer("from", dg.Addr), zap.Error(err))
		return
	}

	now := e.clock.Now()
	e.clients.Touch(dg.Addr, now)

	switch r := req.(type) {
	case lan.GetAll:
		e.answerGetAll(dg.Addr, now)
	case lan.PosUpdate:
		rec := r.Record.Normalized()
		e.log.Debug("LAN position update", zap.Stringer("from", dg.Addr), zap.String("callsign", rec.Callsign))
		e.accept(rec, now)
	}
}

func (e *Engine) answerGetAll(to netip.AddrPort, now time.Time) {
	n := 0
	for st := range e.positions.Fresh(now, e.positionTTL) {
		if err := e.lan.SendTo(lan.EncodePosition(st, st.Age(now)), to); err != nil {
			e.stats.LANSendErrors++
			e.log.Debug("getall reply failed", zap.Stringer("to", to), zap.Error(err))
			continue
		}
		e.stats.LANSent++
		n++
	}
	e.log.Debug("answered getall", zap.Stringer("to", to), zap.Int("positions", n))
}

// accept stores rec and queues it for this cycle's sends.
func (e *Engine) accept(rec position.Record, now time.Time) {
	e.positions.Upsert(rec, now)
	e.pending = append(e.pending, rec)
	e.lastHeard = rec.Callsign
}

func (e *Engine) sendWAN() {
	for _, rec := range e.pending {
		if err := e.wan.Send(wan.Encode(rec)); err != nil {
			e.stats.WANSendErrors++
			e.log.Warn("radio send failed", zap.String("callsign", rec.Callsign), zap.Error(err))
			continue
		}
		e.stats.WANSent++
	}
}

func (e *Engine) drainWAN() {
	for {
		frame, ok := e.wan.TryRecv()
		if !ok {
			return
		}
		e.stats.WANReceived++
		rec, err := wan.Decode(frame)
		if err != nil {
			e.stats.WANDecodeErrors++
			e.log.Warn("discarding radio frame", zap.Int("bytes", len(frame)), zap.Error(err))
			continue
		}
		e.log.Debug("radio position", zap.String("callsign", rec.Callsign))
		e.accept(rec, e.clock.Now())
	}
}

func (e *Engine) sendLAN() {
	for _, rec := range e.pending {
		payload := lan.EncodeUpdate(rec)
		res := e.clients.Broadcast(e.clock.Now(), e.clientTTL, func(addr netip.AddrPort) error {
			err := e.lan.SendTo(payload, addr)
			if err != nil {
				e.log.Debug("broadcast to client failed", zap.Stringer("to", addr), zap.Error(err))
			}
			return err
		})
		e.stats.LANSent += uint64(res.Sent)
		e.stats.LANSendErrors += uint64(res.Failed)
		e.stats.ClientsEvicted += uint64(res.Evicted)
		if res.Evicted > 0 {
			e.log.Info("expired LAN clients removed", zap.Int("count", res.Evicted))
		}
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// State returns the step the loop is in.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Positions returns the positions a getall would see now, without evicting
// anything.
func (e *Engine) Positions() []PositionView {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	stored := e.positions.Peek(now, e.positionTTL)
	out := make([]PositionView, 0, len(stored))
	for _, st := range stored {
		out = append(out, PositionView{Stored: st, Age: st.Age(now)})
	}
	return out
}

// Status returns a snapshot of the engine counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:       e.State(),
		Stats:       e.stats,
		Positions:   e.positions.Len(),
		Clients:     e.clients.Len(),
		LastHeard:   e.lastHeard,
		Interval:    e.interval,
		PositionTTL: e.positionTTL,
		ClientTTL:   e.clientTTL,
	}
}
