// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Radio link modes.
const (
	WANModeSerial = "serial"
	WANModeUDP    = "udp"
)

// Config holds all application configuration values.
type Config struct {
	// LAN
	LANPort int

	// Radio link
	WANMode       string // "serial" (modem on a UART) or "udp" (packet gateway)
	WANSerialPort string
	WANBaudRate   int
	WANUDPListen  string
	WANUDPPeer    string

	// Relay loop
	CycleInterval time.Duration
	PositionTTL   time.Duration
	ClientTTL     time.Duration

	// Own GPS (optional)
	GPSSerialPort string
	GPSBaudRate   int
	SelfCallsign  string
	SelfInterval  time.Duration

	// MQTT mirror (optional)
	MQTTBroker     string
	MQTTClientID   string
	TopicPositions string

	// Web Server (0 disables)
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16 // 0 disables the OLED
	DisplayUpdateInterval time.Duration

	// Activity LED, e.g. "GPIO17" (empty disables)
	ActivityLEDPin string

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		LANPort:               5309,
		WANMode:               WANModeSerial,
		WANSerialPort:         "/dev/serial0",
		WANBaudRate:           115200,
		WANUDPListen:          ":1700",
		CycleInterval:         50 * time.Millisecond,
		PositionTTL:           600 * time.Second,
		ClientTTL:             600 * time.Second,
		GPSBaudRate:           9600,
		SelfInterval:          10 * time.Second,
		TopicPositions:        "tracker/positions",
		DisplayUpdateInterval: time.Second,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// LAN
	case "LAN_PORT":
		c.LANPort, err = parsePort(key, value)

	// Radio link
	case "WAN_MODE":
		c.WANMode = strings.ToLower(value)
	case "WAN_SERIAL_PORT":
		c.WANSerialPort = value
	case "WAN_BAUD_RATE":
		c.WANBaudRate, err = parsePositive(key, value)
	case "WAN_UDP_LISTEN":
		c.WANUDPListen = value
	case "WAN_UDP_PEER":
		c.WANUDPPeer = value

	// Relay loop
	case "CYCLE_INTERVAL_MS":
		c.CycleInterval, err = parseDuration(key, value, time.Millisecond)
	case "POSITION_TTL_SECONDS":
		c.PositionTTL, err = parseDuration(key, value, time.Second)
	case "CLIENT_TTL_SECONDS":
		c.ClientTTL, err = parseDuration(key, value, time.Second)

	// Own GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parsePositive(key, value)
	case "SELF_CALLSIGN":
		c.SelfCallsign = value
	case "SELF_INTERVAL_MS":
		c.SelfInterval, err = parseDuration(key, value, time.Millisecond)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC_POSITIONS":
		c.TopicPositions = strings.TrimSuffix(value, "/")

	// Web Server
	case "WEB_SERVER_PORT":
		if value == "0" {
			c.WebServerPort = 0
			return nil
		}
		c.WebServerPort, err = parsePort(key, value)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseDuration(key, value, time.Millisecond)

	// Activity LED
	case "ACTIVITY_LED_PIN":
		c.ActivityLEDPin = value

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FORMAT":
		c.LogFormat = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parsePositive(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func parsePort(key, value string) (int, error) {
	n, err := parsePositive(key, value)
	if err != nil {
		return 0, err
	}
	if n > 65535 {
		return 0, fmt.Errorf("%s must be 1-65535, got %d", key, n)
	}
	return n, nil
}

func parseDuration(key, value string, unit time.Duration) (time.Duration, error) {
	n, err := parsePositive(key, value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

// validate checks that the combination of values is usable.
func (c *Config) validate() error {
	switch c.WANMode {
	case WANModeSerial:
		if c.WANSerialPort == "" {
			return fmt.Errorf("WAN_SERIAL_PORT is required in serial mode")
		}
	case WANModeUDP:
		if c.WANUDPListen == "" {
			return fmt.Errorf("WAN_UDP_LISTEN is required in udp mode")
		}
	default:
		return fmt.Errorf("WAN_MODE must be %q or %q, got %q", WANModeSerial, WANModeUDP, c.WANMode)
	}
	if c.GPSSerialPort != "" && c.SelfCallsign == "" {
		return fmt.Errorf("SELF_CALLSIGN is required when GPS_SERIAL_PORT is set")
	}
	if c.MQTTBroker != "" && c.TopicPositions == "" {
		return fmt.Errorf("MQTT_TOPIC_POSITIONS is required when MQTT_BROKER is set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
