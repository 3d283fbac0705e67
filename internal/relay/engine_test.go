// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/position"
	"github.com/relabs-tech/lora_tracker/internal/transport"
	"github.com/relabs-tech/lora_tracker/internal/wan"
)

var (
	phone  = netip.MustParseAddrPort("192.168.0.10:40000")
	tablet = netip.MustParseAddrPort("192.168.0.11:40001")
)

type sentDatagram struct {
	to      netip.AddrPort
	payload string
}

type fakeLAN struct {
	mu      sync.Mutex
	inbox   []transport.Datagram
	sent    []sentDatagram
	failFor map[netip.AddrPort]bool
}

func (f *fakeLAN) push(from netip.AddrPort, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, transport.Datagram{Payload: payload, Addr: from})
}

func (f *fakeLAN) TryRecv() (transport.Datagram, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return transport.Datagram{}, false
	}
	dg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return dg, true
}

func (f *fakeLAN) SendTo(payload []byte, addr netip.AddrPort) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[addr] {
		return transport.ErrSend
	}
	f.sent = append(f.sent, sentDatagram{to: addr, payload: string(payload)})
	return nil
}

// takeSent returns and forgets everything sent so far.
func (f *fakeLAN) takeSent() []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeWAN struct {
	inbox   [][]byte
	sent    [][]byte
	sendErr error
}

func (f *fakeWAN) TryRecv() ([]byte, bool) {
	if len(f.inbox) == 0 {
		return nil, false
	}
	frame := f.inbox[0]
	f.inbox = f.inbox[1:]
	return frame, true
}

func (f *fakeWAN) Send(frame []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeWAN) Close() error { return nil }

func (f *fakeWAN) takeSent() []position.Record {
	var out []position.Record
	for _, frame := range f.sent {
		rec, err := wan.Decode(frame)
		if err != nil {
			panic(err)
		}
		out = append(out, rec)
	}
	f.sent = nil
	return out
}

type harness struct {
	lan    *fakeLAN
	wan    *fakeWAN
	clock  *clock.Mock
	engine *Engine
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		lan:   &fakeLAN{},
		wan:   &fakeWAN{},
		clock: clock.NewMock(),
	}
	h.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opts.Clock = h.clock
	opts.Logger = zaptest.NewLogger(t)
	h.engine = New(h.lan, h.wan, opts)
	return h
}

func posUpdate(callsign string, lat, long int32) []byte {
	return lan.EncodePosUpdate(position.Record{Callsign: callsign, Lat: lat, Long: long, IsAccurate: true})
}

func TestEngine_PosUpdateStoredQueuedAndSentOnWAN(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, posUpdate("ABCD", 1, 2))

	report := h.engine.RunCycle()

	want := position.Record{Callsign: "ABCD", Lat: 1, Long: 2, IsAccurate: true}
	assert.Equal(t, []position.Record{want}, report.Updates, "queued exactly once")
	assert.Equal(t, []position.Record{want}, h.wan.takeSent(), "relayed on the radio in the same cycle")

	st, ok := h.engine.positions.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, want, st.Record)
	assert.True(t, h.engine.clients.Contains(phone))

	// The sender is a registered client, so it hears the broadcast too.
	sent := h.lan.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, phone, sent[0].to)
	assert.JSONEq(t, `{"callsign":"ABCD","lat":1,"long":2,"isaccurate":true}`, sent[0].payload)
}

func TestEngine_PendingQueueClearedBetweenCycles(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, posUpdate("ABCD", 1, 2))
	h.engine.RunCycle()
	h.wan.takeSent()
	h.lan.takeSent()

	report := h.engine.RunCycle()
	assert.Empty(t, report.Updates)
	assert.Empty(t, h.wan.takeSent())
	assert.Empty(t, h.lan.takeSent())
}

func TestEngine_LongCallsignNormalized(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, posUpdate("ABCDEFGH", 1, 2))
	h.engine.RunCycle()

	_, ok := h.engine.positions.Get("ABCD")
	assert.True(t, ok, "stored under the callsign the radio will carry")
}

func TestEngine_GetAllFreshPosition(t *testing.T) {
	h := newHarness(t, Options{})
	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{Callsign: "ABCD", Lat: 5, Long: 6}))
	h.engine.RunCycle()

	h.clock.Add(100 * time.Second)
	h.lan.push(phone, lan.EncodeGetAll())
	report := h.engine.RunCycle()

	assert.Empty(t, report.Updates, "getall does not queue anything")
	assert.Empty(t, h.wan.takeSent(), "radio frames and getall never reach the radio")

	sent := h.lan.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, phone, sent[0].to)
	p, err := lan.DecodePosition([]byte(sent[0].payload))
	require.NoError(t, err)
	assert.Equal(t, "ABCD", p.Callsign)
	require.NotNil(t, p.Age)
	assert.InDelta(t, 100, *p.Age, 0.001)
}

func TestEngine_GetAllExpiredPositionEvicted(t *testing.T) {
	h := newHarness(t, Options{})
	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{Callsign: "ABCD"}))
	h.engine.RunCycle()

	h.clock.Add(700 * time.Second)
	h.lan.push(phone, lan.EncodeGetAll())
	h.engine.RunCycle()

	assert.Empty(t, h.lan.takeSent())
	_, ok := h.engine.positions.Get("ABCD")
	assert.False(t, ok)
}

func TestEngine_ExpiredPositionLingersWithoutGetAll(t *testing.T) {
	h := newHarness(t, Options{})
	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{Callsign: "ABCD"}))
	h.engine.RunCycle()

	h.clock.Add(2 * time.Hour)
	h.engine.RunCycle()

	// Eviction is lazy: only a getall enumeration removes it.
	assert.Equal(t, 1, h.engine.Status().Positions)
	assert.Empty(t, h.engine.Positions(), "but it is no longer reported")
}

func TestEngine_ClientExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, posUpdate("PHON", 1, 1))
	h.engine.RunCycle()
	h.lan.takeSent()

	h.clock.Add(599 * time.Second)
	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{Callsign: "RAD1"}))
	h.engine.RunCycle()
	sent := h.lan.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, phone, sent[0].to)

	h.clock.Add(2 * time.Second) // T+601
	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{Callsign: "RAD2"}))
	report := h.engine.RunCycle()
	assert.Empty(t, h.lan.takeSent())
	assert.False(t, h.engine.clients.Contains(phone))
	assert.Equal(t, uint64(1), report.Stats.ClientsEvicted)
}

func TestEngine_ClientLingersWithoutBroadcast(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, lan.EncodeGetAll())
	h.engine.RunCycle()

	h.clock.Add(2 * time.Hour)
	h.engine.RunCycle()
	h.engine.RunCycle()

	// Nothing was broadcast, so nothing evicted the stale client.
	assert.True(t, h.engine.clients.Contains(phone))
}

func TestEngine_WANFrameBroadcastSameCycle(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, lan.EncodeGetAll())
	h.lan.push(tablet, lan.EncodeGetAll())
	h.engine.RunCycle()
	require.Empty(t, h.lan.takeSent())

	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{
		Callsign: "ABCD", Lat: 377771000, Long: -1224190000, IsAccurate: true,
	}))
	report := h.engine.RunCycle()

	st, ok := h.engine.positions.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, int32(377771000), st.Lat)
	assert.Equal(t, int32(-1224190000), st.Long)

	sent := h.lan.takeSent()
	require.Len(t, sent, 2)
	assert.ElementsMatch(t, []netip.AddrPort{phone, tablet}, []netip.AddrPort{sent[0].to, sent[1].to})
	for _, s := range sent {
		assert.JSONEq(t, `{"callsign":"ABCD","lat":377771000,"long":-1224190000,"isaccurate":true}`, s.payload)
	}

	assert.Empty(t, h.wan.takeSent(), "radio frames are not echoed back on the radio")
	assert.Len(t, report.Updates, 1)
}

func TestEngine_DecodeFailuresHaveNoEffect(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, []byte(`{nope`))
	h.lan.push(phone, []byte(`{"type":"subscribe"}`))
	h.lan.push(phone, []byte(`{"type":"posupdate","callsign":"ABCD"}`))

	bad := wan.Encode(position.Record{Callsign: "ABCD"})
	bad[4] = 0
	h.wan.inbox = append(h.wan.inbox, bad, []byte{1, 2, 3})

	report := h.engine.RunCycle()

	assert.Empty(t, report.Updates)
	assert.Equal(t, 0, report.Positions)
	assert.Equal(t, 0, report.Clients, "undecodable messages do not register a client")
	assert.Equal(t, uint64(3), report.Stats.LANDecodeErrors)
	assert.Equal(t, uint64(2), report.Stats.WANDecodeErrors)
	assert.Empty(t, h.wan.takeSent())
	assert.Empty(t, h.lan.takeSent())
}

func TestEngine_BroadcastSendErrorsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.failFor = map[netip.AddrPort]bool{phone: true}
	h.lan.push(phone, lan.EncodeGetAll())
	h.lan.push(tablet, lan.EncodeGetAll())
	h.engine.RunCycle()

	h.wan.inbox = append(h.wan.inbox,
		wan.Encode(position.Record{Callsign: "AAAA"}),
		wan.Encode(position.Record{Callsign: "BBBB"}))
	report := h.engine.RunCycle()

	sent := h.lan.takeSent()
	require.Len(t, sent, 2, "tablet still gets both updates")
	for _, s := range sent {
		assert.Equal(t, tablet, s.to)
	}
	assert.Equal(t, uint64(2), report.Stats.LANSendErrors)
	assert.True(t, h.engine.clients.Contains(phone))
}

func TestEngine_WANSendErrorDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, Options{})
	h.wan.sendErr = errors.New("modem gone")
	h.lan.push(phone, posUpdate("ABCD", 1, 2))

	report := h.engine.RunCycle()
	assert.Equal(t, uint64(1), report.Stats.WANSendErrors)
	assert.Len(t, h.lan.takeSent(), 1, "LAN broadcast still happens")
}

func TestEngine_LANUpdateBeforeWANFrameOrdering(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, posUpdate("LANX", 1, 1))
	h.wan.inbox = append(h.wan.inbox, wan.Encode(position.Record{Callsign: "WANX"}))

	report := h.engine.RunCycle()
	require.Len(t, report.Updates, 2)
	assert.Equal(t, "LANX", report.Updates[0].Callsign)
	assert.Equal(t, "WANX", report.Updates[1].Callsign)

	radio := h.wan.takeSent()
	require.Len(t, radio, 1)
	assert.Equal(t, "LANX", radio[0].Callsign)
}

type fixedSelf struct {
	rec   position.Record
	calls int
}

func (f *fixedSelf) TryNext(time.Time) (position.Record, bool) {
	f.calls++
	return f.rec, f.calls == 1
}

func TestEngine_SelfPositionRelayed(t *testing.T) {
	self := &fixedSelf{rec: position.Record{Callsign: "RELAY", Lat: 9, Long: 9, IsAccurate: true}}
	h := newHarness(t, Options{Self: self})

	report := h.engine.RunCycle()
	require.Len(t, report.Updates, 1)
	assert.Equal(t, "RELA", report.Updates[0].Callsign)
	assert.Len(t, h.wan.takeSent(), 1)
	assert.Equal(t, 0, report.Clients, "own GPS is not a LAN client")

	report = h.engine.RunCycle()
	assert.Empty(t, report.Updates)
}

func TestEngine_ObserversSeeEachCycle(t *testing.T) {
	var reports []CycleReport
	h := newHarness(t, Options{Observers: []Observer{
		ObserverFunc(func(r CycleReport) { reports = append(reports, r) }),
	}})
	h.lan.push(phone, posUpdate("ABCD", 1, 2))
	h.engine.RunCycle()
	h.engine.RunCycle()

	require.Len(t, reports, 2)
	assert.Equal(t, uint64(1), reports[0].Cycle)
	assert.Len(t, reports[0].Updates, 1)
	assert.Empty(t, reports[1].Updates)
	assert.Equal(t, StateSleep, h.engine.State())
}

func TestEngine_StatusAndPositions(t *testing.T) {
	h := newHarness(t, Options{})
	h.lan.push(phone, posUpdate("ABCD", 1, 2))
	h.engine.RunCycle()
	h.clock.Add(30 * time.Second)

	st := h.engine.Status()
	assert.Equal(t, 1, st.Positions)
	assert.Equal(t, 1, st.Clients)
	assert.Equal(t, "ABCD", st.LastHeard)
	assert.Equal(t, uint64(1), st.Stats.WANSent)

	views := h.engine.Positions()
	require.Len(t, views, 1)
	assert.Equal(t, 30*time.Second, views[0].Age)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	cycles := 0
	h := newHarness(t, Options{Interval: time.Second, Observers: []Observer{
		ObserverFunc(func(CycleReport) {
			mu.Lock()
			cycles++
			mu.Unlock()
		}),
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		mu.Lock()
		defer mu.Unlock()
		return cycles >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	h.clock.Add(time.Second)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateIdle, h.engine.State())
}
