// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import (
	"time"

	"github.com/relabs-tech/lora_tracker/internal/position"
)

// State is the step of the cycle the engine is executing.
type State int32

const (
	StateIdle State = iota
	StateDrainLAN
	StateSendWAN
	StateDrainWAN
	StateSendLAN
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrainLAN:
		return "drain_lan"
	case StateSendWAN:
		return "send_wan"
	case StateDrainWAN:
		return "drain_wan"
	case StateSendLAN:
		return "send_lan"
	case StateSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats are running totals since the engine was created.
type Stats struct {
	Cycles          uint64 `json:"cycles"`
	LANReceived     uint64 `json:"lan_received"`
	LANDecodeErrors uint64 `json:"lan_decode_errors"`
	LANSent         uint64 `json:"lan_sent"`
	LANSendErrors   uint64 `json:"lan_send_errors"`
	WANReceived     uint64 `json:"wan_received"`
	WANDecodeErrors uint64 `json:"wan_decode_errors"`
	WANSent         uint64 `json:"wan_sent"`
	WANSendErrors   uint64 `json:"wan_send_errors"`
	ClientsEvicted  uint64 `json:"clients_evicted"`
}

// CycleReport describes one finished cycle. Updates holds every record
// accepted during the cycle in arrival order.
type CycleReport struct {
	Cycle     uint64
	Time      time.Time
	Updates   []position.Record
	Stats     Stats
	Positions int
	Clients   int
}

// Status is a point-in-time view of the engine.
type Status struct {
	State       State         `json:"state"`
	Stats       Stats         `json:"stats"`
	Positions   int           `json:"positions"`
	Clients     int           `json:"clients"`
	LastHeard   string        `json:"last_heard,omitempty"`
	Interval    time.Duration `json:"interval_ns"`
	PositionTTL time.Duration `json:"position_ttl_ns"`
	ClientTTL   time.Duration `json:"client_ttl_ns"`
}

// PositionView is a stored position with its age at the time of the call.
type PositionView struct {
	position.Stored
	Age time.Duration
}
