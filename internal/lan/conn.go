// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package lan

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/transport"
)

// maxDatagram matches the Ethernet MTU; requests are far smaller.
const maxDatagram = 1500

// Conn is the relay's UDP socket on the local network.
type Conn struct {
	udp    *net.UDPConn
	poller *transport.Poller
	log    *zap.Logger
}

// Listen binds addr (for example ":5309") and starts receiving.
func Listen(addr string, log *zap.Logger) (*Conn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve LAN address %q: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("listen on LAN UDP %s: %w", addr, err)
	}
	c := &Conn{udp: udp, log: log}
	c.poller = transport.NewPoller(c.read, transport.DefaultQueueDepth, log)
	log.Info("LAN socket listening", zap.Stringer("addr", udp.LocalAddr()))
	return c, nil
}

func (c *Conn) read() (transport.Datagram, error) {
	buf := make([]byte, maxDatagram)
	n, addr, err := c.udp.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return transport.Datagram{}, transport.ErrClosed
		}
		return transport.Datagram{}, err
	}
	return transport.Datagram{Payload: buf[:n], Addr: unmap(addr)}, nil
}

// unmap turns IPv4-mapped IPv6 sources into plain IPv4 so the same client
// always produces the same registry key.
func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// TryRecv returns a pending request datagram without blocking.
func (c *Conn) TryRecv() (transport.Datagram, bool) {
	return c.poller.TryRecv()
}

// SendTo writes one datagram to addr.
func (c *Conn) SendTo(payload []byte, addr netip.AddrPort) error {
	if _, err := c.udp.WriteToUDPAddrPort(payload, addr); err != nil {
		return fmt.Errorf("%w: to %s: %v", transport.ErrSend, addr, err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() netip.AddrPort {
	return unmap(c.udp.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Close stops the reader and releases the socket.
func (c *Conn) Close() error {
	c.poller.Close()
	err := c.udp.Close()
	<-c.poller.Stopped()
	return err
}
