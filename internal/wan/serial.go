// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/transport"
)

// MaxPacket is the largest payload the modem framing can carry.
const MaxPacket = 255

// ErrPacketTooLarge is returned by WritePacket for payloads over MaxPacket.
var ErrPacketTooLarge = errors.New("wan: packet too large")

// The radio modem exchanges whole LoRa packets over its UART, each one
// prefixed by a single length byte.

// WritePacket writes one length-prefixed packet.
func WritePacket(w io.Writer, payload []byte) error {
	if len(payload) > MaxPacket {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(payload))
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, byte(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadPacket reads one length-prefixed packet.
func ReadPacket(r *bufio.Reader) ([]byte, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SerialOptions selects the modem UART.
type SerialOptions struct {
	PortName string
	BaudRate uint
}

// SerialLink talks to a LoRa modem attached to a serial port.
type SerialLink struct {
	port   io.ReadWriteCloser
	poller *transport.Poller

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// OpenSerial opens the modem UART and starts reading packets.
func OpenSerial(opts SerialOptions, log *zap.Logger) (*SerialLink, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("open radio serial port %s: %w", opts.PortName, err)
	}
	log.Info("radio serial port opened", zap.String("port", opts.PortName), zap.Uint("baud", opts.BaudRate))
	return NewSerialLink(port, log), nil
}

// NewSerialLink wraps an already open modem stream.
func NewSerialLink(port io.ReadWriteCloser, log *zap.Logger) *SerialLink {
	l := &SerialLink{port: port, closed: make(chan struct{})}
	reader := bufio.NewReader(port)
	l.poller = transport.NewPoller(func() (transport.Datagram, error) {
		payload, err := ReadPacket(reader)
		if err != nil {
			select {
			case <-l.closed:
				return transport.Datagram{}, transport.ErrClosed
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return transport.Datagram{}, fmt.Errorf("%w: %v", transport.ErrClosed, err)
			}
			return transport.Datagram{}, err
		}
		return transport.Datagram{Payload: payload}, nil
	}, transport.DefaultQueueDepth, log)
	return l
}

func (l *SerialLink) TryRecv() ([]byte, bool) {
	dg, ok := l.poller.TryRecv()
	return dg.Payload, ok
}

func (l *SerialLink) Send(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := WritePacket(l.port, frame); err != nil {
		return fmt.Errorf("%w: radio: %v", transport.ErrSend, err)
	}
	return nil
}

func (l *SerialLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		l.poller.Close()
		err = l.port.Close()
	})
	<-l.poller.Stopped()
	return err
}
