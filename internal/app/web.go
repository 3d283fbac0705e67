// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/relay"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, the relay lives on a private LAN
	},
}

// StatusSource is what the web API reads from the relay.
type StatusSource interface {
	Status() relay.Status
	Positions() []relay.PositionView
}

// Hub fans out every relayed update to connected websocket clients. A client
// whose buffer is full is dropped.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log.Named("ws"), clients: make(map[*wsClient]struct{})}
}

// ObserveCycle queues the cycle's updates for every client.
func (h *Hub) ObserveCycle(r relay.CycleReport) {
	for _, rec := range r.Updates {
		h.broadcast(lan.EncodeUpdate(rec))
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow websocket client", zap.Stringer("remote", c.conn.RemoteAddr()))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams updates until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	if h.closed {
		// Closed while upgrading.
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client connected", zap.Stringer("remote", conn.RemoteAddr()))

	go h.writeLoop(c)

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	h.log.Debug("websocket client disconnected", zap.Stringer("remote", conn.RemoteAddr()))
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug("websocket write failed", zap.Error(err))
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// positionJSON is one entry of GET /api/positions.
type positionJSON struct {
	lan.Position
	Updated time.Time `json:"updated"`
}

type statusJSON struct {
	relay.Status
	WebClients int `json:"web_clients"`
}

// NewWebHandler serves the JSON API and the live stream.
func NewWebHandler(src StatusSource, hub *Hub, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/positions", func(w http.ResponseWriter, r *http.Request) {
		views := src.Positions()
		out := make([]positionJSON, 0, len(views))
		for _, v := range views {
			age := v.Age.Seconds()
			p := positionJSON{Updated: v.Updated}
			p.Position = lan.Position{
				Callsign:   v.Callsign,
				Lat:        v.Lat,
				Long:       v.Long,
				IsAccurate: v.IsAccurate,
				Age:        &age,
			}
			out = append(out, p)
		}
		writeJSON(w, out, log)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusJSON{Status: src.Status(), WebClients: hub.Len()}, log)
	})

	mux.HandleFunc("GET /ws", hub.ServeWS)

	return mux
}

func writeJSON(w http.ResponseWriter, v any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("json encode error", zap.Error(err))
	}
}

// RunWeb serves handler on port until ctx is done.
func RunWeb(ctx context.Context, port int, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("web server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}
