// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport turns blocking datagram readers into the non-blocking
// receive the relay loop polls every cycle.
package transport

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSend wraps every failed outbound write.
	ErrSend = errors.New("transport: send failed")
	// ErrClosed is returned once a transport has been closed.
	ErrClosed = errors.New("transport: closed")
)

// DefaultQueueDepth bounds how many datagrams wait between two cycles.
const DefaultQueueDepth = 256

// A failing reader is retried after a pause that doubles up to maxReadBackoff.
const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// Datagram is one received message. Addr is the zero AddrPort for links
// without addressing (serial radio).
type Datagram struct {
	Payload []byte
	Addr    netip.AddrPort
}

// ReadFunc blocks until one datagram is available. It must return a fresh
// payload slice on every call.
type ReadFunc func() (Datagram, error)

// Poller runs a ReadFunc on its own goroutine and queues the results.
// When the queue is full new datagrams are dropped.
type Poller struct {
	read    ReadFunc
	queue   chan Datagram
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	log     *zap.Logger
}

// NewPoller starts reading immediately. The reader goroutine exits when read
// returns an error after Close has been called.
func NewPoller(read ReadFunc, depth int, log *zap.Logger) *Poller {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	p := &Poller{
		read:    read,
		queue:   make(chan Datagram, depth),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log,
	}
	go p.loop()
	return p
}

func (p *Poller) loop() {
	defer close(p.stopped)
	var backoff time.Duration
	for {
		dg, err := p.read()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			if errors.Is(err, ErrClosed) {
				p.log.Warn("read error", zap.Error(err))
				return
			}
			backoff = min(max(2*backoff, minReadBackoff), maxReadBackoff)
			p.log.Warn("read error", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-p.done:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		select {
		case p.queue <- dg:
		default:
			p.dropped.Add(1)
			p.log.Debug("queue full, datagram dropped", zap.Int("bytes", len(dg.Payload)))
		}
	}
}

// TryRecv returns the next queued datagram, or false when nothing is pending.
// It never blocks.
func (p *Poller) TryRecv() (Datagram, bool) {
	select {
	case dg := <-p.queue:
		return dg, true
	default:
		return Datagram{}, false
	}
}

// Dropped returns the number of datagrams discarded because the queue was full.
func (p *Poller) Dropped() uint64 {
	return p.dropped.Load()
}

// Close marks the poller closed. The caller is expected to close the
// underlying reader so that a pending read returns; Stopped reports when the
// goroutine is gone.
func (p *Poller) Close() {
	p.once.Do(func() { close(p.done) })
}

// Stopped is closed after the reader goroutine has exited.
func (p *Poller) Stopped() <-chan struct{} {
	return p.stopped
}
