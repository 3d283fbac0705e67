// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("# nothing here\n\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5309, cfg.LANPort)
	assert.Equal(t, 50*time.Millisecond, cfg.CycleInterval)
	assert.Equal(t, 600*time.Second, cfg.PositionTTL)
}

func TestParse_AllKeys(t *testing.T) {
	src := `
LAN_PORT=6000
WAN_MODE=UDP
WAN_UDP_LISTEN=0.0.0.0:1800
WAN_UDP_PEER = 10.0.0.2:1801
CYCLE_INTERVAL_MS=100
POSITION_TTL_SECONDS=300
CLIENT_TTL_SECONDS=120
GPS_SERIAL_PORT=/dev/ttyUSB0
GPS_BAUD_RATE=4800
SELF_CALLSIGN=BASE
SELF_INTERVAL_MS=5000
MQTT_BROKER=tcp://localhost:1883
MQTT_CLIENT_ID=relay-1
MQTT_TOPIC_POSITIONS=field/positions/
WEB_SERVER_PORT=8080
DISPLAY_I2C_BUS=1
DISPLAY_I2C_ADDR=0x3C
DISPLAY_UPDATE_INTERVAL=500
ACTIVITY_LED_PIN=GPIO17
LOG_LEVEL=DEBUG
LOG_FORMAT=console
`
	cfg, err := Parse(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.LANPort)
	assert.Equal(t, WANModeUDP, cfg.WANMode)
	assert.Equal(t, "0.0.0.0:1800", cfg.WANUDPListen)
	assert.Equal(t, "10.0.0.2:1801", cfg.WANUDPPeer)
	assert.Equal(t, 100*time.Millisecond, cfg.CycleInterval)
	assert.Equal(t, 300*time.Second, cfg.PositionTTL)
	assert.Equal(t, 120*time.Second, cfg.ClientTTL)
	assert.Equal(t, "/dev/ttyUSB0", cfg.GPSSerialPort)
	assert.Equal(t, 4800, cfg.GPSBaudRate)
	assert.Equal(t, "BASE", cfg.SelfCallsign)
	assert.Equal(t, 5*time.Second, cfg.SelfInterval)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "relay-1", cfg.MQTTClientID)
	assert.Equal(t, "field/positions", cfg.TopicPositions)
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, "1", cfg.DisplayI2CBus)
	assert.Equal(t, uint16(0x3C), cfg.DisplayI2CAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.DisplayUpdateInterval)
	assert.Equal(t, "GPIO17", cfg.ActivityLEDPin)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"no equals":           "LAN_PORT 5309",
		"unknown key":         "LORA_SF=7",
		"bad port":            "LAN_PORT=abc",
		"port range":          "LAN_PORT=70000",
		"zero interval":       "CYCLE_INTERVAL_MS=0",
		"negative ttl":        "POSITION_TTL_SECONDS=-1",
		"bad i2c addr":        "DISPLAY_I2C_ADDR=0xZZ",
		"unknown mode":        "WAN_MODE=bluetooth",
		"serial without port": "WAN_SERIAL_PORT=",
		"gps without call":    "GPS_SERIAL_PORT=/dev/ttyUSB0",
		"bad log level":       "LOG_LEVEL=chatty",
		"bad log format":      "LOG_FORMAT=xml",
	}
	for name, src := range cases {
		_, err := Parse(strings.NewReader(src))
		assert.Error(t, err, name)
	}
}

func TestParse_ErrorMentionsLine(t *testing.T) {
	_, err := Parse(strings.NewReader("# header\nLAN_PORT=5309\nLAN_PORT=x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestParse_WebPortZeroDisables(t *testing.T) {
	cfg, err := Parse(strings.NewReader("WEB_SERVER_PORT=0"))
	require.NoError(t, err)
	assert.Zero(t, cfg.WebServerPort)
}

func TestLoadAndGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_config.txt")
	require.NoError(t, os.WriteFile(path, []byte("LAN_PORT=5400\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5400, cfg.LANPort)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	require.NoError(t, InitGlobal(path))
	require.NotNil(t, Get())
	assert.Equal(t, 5400, Get().LANPort)
}
