// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wan

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/transport"
)

// UDPLink exchanges raw radio frames with a packet gateway over UDP. Every
// received datagram is one radio packet; sent frames go to the gateway peer.
type UDPLink struct {
	udp    *net.UDPConn
	peer   netip.AddrPort
	poller *transport.Poller
}

// ListenUDP binds listen and sends to peer. An empty peer makes the link
// receive-only.
func ListenUDP(listen, peer string, log *zap.Logger) (*UDPLink, error) {
	la, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve radio gateway listen address %q: %w", listen, err)
	}
	var pa netip.AddrPort
	if peer != "" {
		ra, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			return nil, fmt.Errorf("resolve radio gateway peer %q: %w", peer, err)
		}
		pa = ra.AddrPort()
	}
	udp, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, fmt.Errorf("listen on radio gateway UDP %s: %w", listen, err)
	}

	l := &UDPLink{udp: udp, peer: pa}
	l.poller = transport.NewPoller(func() (transport.Datagram, error) {
		buf := make([]byte, MaxPacket)
		n, from, err := udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return transport.Datagram{}, transport.ErrClosed
			}
			return transport.Datagram{}, err
		}
		return transport.Datagram{Payload: buf[:n], Addr: from}, nil
	}, transport.DefaultQueueDepth, log)

	log.Info("radio gateway link ready",
		zap.Stringer("listen", udp.LocalAddr()),
		zap.Stringer("peer", pa))
	return l, nil
}

// LocalAddr returns the bound address.
func (l *UDPLink) LocalAddr() netip.AddrPort {
	ap := l.udp.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (l *UDPLink) TryRecv() ([]byte, bool) {
	dg, ok := l.poller.TryRecv()
	return dg.Payload, ok
}

func (l *UDPLink) Send(frame []byte) error {
	if !l.peer.IsValid() {
		return fmt.Errorf("%w: radio gateway peer not configured", transport.ErrSend)
	}
	if _, err := l.udp.WriteToUDPAddrPort(frame, l.peer); err != nil {
		return fmt.Errorf("%w: radio gateway %s: %v", transport.ErrSend, l.peer, err)
	}
	return nil
}

func (l *UDPLink) Close() error {
	l.poller.Close()
	err := l.udp.Close()
	<-l.poller.Stopped()
	return err
}
