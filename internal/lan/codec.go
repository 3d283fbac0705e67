// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package lan implements the JSON-over-UDP protocol spoken by phones and
// other clients on the local network.
package lan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/lora_tracker/internal/position"
)

// DefaultPort is the UDP port clients send requests to.
const DefaultPort = 5309

// Request type names on the wire.
const (
	TypeGetAll    = "getall"
	TypePosUpdate = "posupdate"
)

var (
	ErrInvalidJSON  = errors.New("lan: invalid json")
	ErrUnknownType  = errors.New("lan: unknown message type")
	ErrMissingField = errors.New("lan: missing or malformed field")
)

// Request is a decoded client request: GetAll or PosUpdate.
type Request interface {
	requestType() string
}

// GetAll asks for every fresh position, answered only to the sender.
type GetAll struct{}

// PosUpdate reports the sender's own position.
type PosUpdate struct {
	Record position.Record
}

func (GetAll) requestType() string    { return TypeGetAll }
func (PosUpdate) requestType() string { return TypePosUpdate }

// Position is the JSON object clients receive. Age is only present in
// answers to getall.
type Position struct {
	Callsign   string   `json:"callsign"`
	Lat        int32    `json:"lat"`
	Long       int32    `json:"long"`
	IsAccurate bool     `json:"isaccurate"`
	Age        *float64 `json:"age,omitempty"`
}

// Record converts the message back into a position record.
func (p Position) Record() position.Record {
	return position.Record{Callsign: p.Callsign, Lat: p.Lat, Long: p.Long, IsAccurate: p.IsAccurate}
}

// DecodeRequest parses one datagram from a client.
func DecodeRequest(b []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidJSON)
	}

	var typ string
	if raw, ok := fields["type"]; !ok || json.Unmarshal(raw, &typ) != nil {
		return nil, fmt.Errorf("%w: no string type field", ErrUnknownType)
	}

	switch typ {
	case TypeGetAll:
		return GetAll{}, nil
	case TypePosUpdate:
		var rec position.Record
		if err := field(fields, "callsign", &rec.Callsign); err != nil {
			return nil, err
		}
		if err := field(fields, "lat", &rec.Lat); err != nil {
			return nil, err
		}
		if err := field(fields, "long", &rec.Long); err != nil {
			return nil, err
		}
		if err := field(fields, "isaccurate", &rec.IsAccurate); err != nil {
			return nil, err
		}
		return PosUpdate{Record: rec}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

func field(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: %s absent", ErrMissingField, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingField, name, err)
	}
	return nil
}

// EncodePosition builds a getall answer for st, aged age.
func EncodePosition(st position.Stored, age time.Duration) []byte {
	secs := max(age.Seconds(), 0)
	msg := fromRecord(st.Record)
	msg.Age = &secs
	return mustMarshal(msg)
}

// EncodeUpdate builds the payload broadcast to every client for rec.
func EncodeUpdate(rec position.Record) []byte {
	return mustMarshal(fromRecord(rec))
}

// EncodeGetAll and EncodePosUpdate build client requests.
func EncodeGetAll() []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
	}{TypeGetAll})
}

func EncodePosUpdate(rec position.Record) []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
		Position
	}{TypePosUpdate, fromRecord(rec)})
}

// DecodePosition parses a message the relay sends to clients.
func DecodePosition(b []byte) (Position, error) {
	var p Position
	if err := json.Unmarshal(b, &p); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return p, nil
}

func fromRecord(rec position.Record) Position {
	return Position{Callsign: rec.Callsign, Lat: rec.Lat, Long: rec.Long, IsAccurate: rec.IsAccurate}
}

// Every message type above only holds strings, numbers and bools.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("lan: marshal %T: %v", v, err))
	}
	return b
}
