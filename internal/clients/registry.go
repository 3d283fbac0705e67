// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clients tracks the LAN peers that receive position broadcasts.
package clients

import (
	"maps"
	"net/netip"
	"slices"
	"time"
)

// DefaultTTL is how long a client keeps receiving broadcasts after it was
// last heard from.
const DefaultTTL = 600 * time.Second

// BroadcastResult summarizes one Broadcast call.
type BroadcastResult struct {
	Sent    int
	Failed  int
	Evicted int
}

// Registry maps LAN addresses to the time they were last seen.
//
// A silent client is only dropped when a broadcast reaches it after its TTL;
// without broadcasts it stays registered. Not safe for concurrent use.
type Registry struct {
	lastSeen map[netip.AddrPort]time.Time
}

func NewRegistry() *Registry {
	return &Registry{lastSeen: make(map[netip.AddrPort]time.Time)}
}

// Touch registers addr or refreshes its last-seen time.
func (r *Registry) Touch(addr netip.AddrPort, now time.Time) {
	r.lastSeen[addr] = now
}

// Len returns the number of registered addresses, expired ones included.
func (r *Registry) Len() int {
	return len(r.lastSeen)
}

// Contains reports whether addr is currently registered.
func (r *Registry) Contains(addr netip.AddrPort) bool {
	_, ok := r.lastSeen[addr]
	return ok
}

// Broadcast calls send for every registered address that is not older than
// ttl. Expired addresses are removed instead. A failing send is counted and
// the loop moves on.
func (r *Registry) Broadcast(now time.Time, ttl time.Duration, send func(netip.AddrPort) error) BroadcastResult {
	var res BroadcastResult
	addrs := slices.SortedFunc(maps.Keys(r.lastSeen), func(a, b netip.AddrPort) int {
		return a.Compare(b)
	})
	for _, addr := range addrs {
		if age := now.Sub(r.lastSeen[addr]); age > ttl {
			delete(r.lastSeen, addr)
			res.Evicted++
			continue
		}
		if err := send(addr); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}
	return res
}
