// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mirror republishes every relayed position on an MQTT broker, one
// retained topic per callsign.
package mirror

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/relay"
)

// PublishTimeout bounds how long a publish result is awaited.
const PublishTimeout = 5 * time.Second

// Publisher is the part of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// DefaultClientID returns a client id unique to this process.
func DefaultClientID() string {
	return "tracker-relay-" + uuid.NewString()
}

// Connect dials the broker and waits for the session.
func Connect(broker, clientID string, log *zap.Logger) (mqtt.Client, error) {
	if clientID == "" {
		clientID = DefaultClientID()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}
	log.Info("connected to MQTT broker", zap.String("broker", broker), zap.String("client_id", clientID))
	return client, nil
}

// Mirror is a relay.Observer publishing each cycle's updates.
type Mirror struct {
	pub    Publisher
	prefix string
	log    *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// New returns a mirror publishing under prefix, e.g. "tracker/positions".
func New(pub Publisher, prefix string, log *zap.Logger) *Mirror {
	return &Mirror{pub: pub, prefix: prefix, log: log.Named("mirror")}
}

// Topic is where the latest position of callsign is retained.
func (m *Mirror) Topic(callsign string) string {
	return m.prefix + "/" + callsign
}

// ObserveCycle publishes without waiting; results are checked in the
// background.
func (m *Mirror) ObserveCycle(r relay.CycleReport) {
	for _, rec := range r.Updates {
		topic := m.Topic(rec.Callsign)
		token := m.pub.Publish(topic, 0, true, lan.EncodeUpdate(rec))
		go m.await(topic, token)
	}
}

func (m *Mirror) await(topic string, token mqtt.Token) {
	if !token.WaitTimeout(PublishTimeout) {
		m.failed.Add(1)
		m.log.Warn("MQTT publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		m.failed.Add(1)
		m.log.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	m.published.Add(1)
}

// Published and Failed count finished publishes.
func (m *Mirror) Published() uint64 { return m.published.Load() }
func (m *Mirror) Failed() uint64    { return m.failed.Load() }
