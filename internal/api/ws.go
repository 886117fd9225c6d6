// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/nautscan/internal/broadcast"
	"grimm.is/nautscan/internal/errors"
	"grimm.is/nautscan/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second // must be less than wsPongWait
	wsReadLimit  = 1024

	// wsSendQueueSize is the per-client outbound buffer. A client that
	// cannot drain it is dropped instead of stalling the broadcaster.
	wsSendQueueSize = 64
)

// WSManager upgrades websocket requests and bridges connections onto the
// broadcast hub.
type WSManager struct {
	logger   *logging.Logger
	hub      *broadcast.Hub
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewWSManager creates a websocket manager attached to the hub.
func NewWSManager(logger *logging.Logger, hub *broadcast.Hub) *WSManager {
	if logger == nil {
		logger = logging.Default()
	}
	return &WSManager{
		logger: logger.WithComponent("ws"),
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is same-host by default; cross-origin access is an
			// operator decision made at the reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleSubscribe upgrades the connection and subscribes it to the
// channel named in the URL path.
func (m *WSManager) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	ch := broadcast.Channel(r.PathValue("channel"))
	if !ch.Valid() {
		WriteError(w, http.StatusNotFound, "unknown channel")
		return
	}
	if m.hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "broadcasting disabled")
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		manager: m,
		conn:    conn,
		send:    make(chan broadcast.Message, wsSendQueueSize),
	}

	m.mu.Lock()
	m.clients[client] = struct{}{}
	m.mu.Unlock()
	m.hub.Subscribe(client, ch)

	m.logger.Debug("websocket subscribed", "channel", ch, "remote", conn.RemoteAddr())

	go client.writePump()
	go client.readPump()
}

// Count returns the number of connected clients.
func (m *WSManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// CloseAll disconnects every client, used during shutdown.
func (m *WSManager) CloseAll() {
	m.mu.Lock()
	clients := make([]*wsClient, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (m *WSManager) remove(c *wsClient) {
	if m.hub != nil {
		m.hub.Unsubscribe(c)
	}
	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
}

// wsClient is one websocket connection acting as a broadcast sink.
type wsClient struct {
	manager   *WSManager
	conn      *websocket.Conn
	send      chan broadcast.Message
	closeOnce sync.Once
}

// Send queues a message for delivery. A full queue is an error so the
// hub drops this subscriber rather than block the capture path.
func (c *wsClient) Send(msg broadcast.Message) error {
	select {
	case c.send <- msg:
		return nil
	default:
		return errors.New(errors.KindDelivery, "websocket send queue full")
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.manager.remove(c)
		_ = c.conn.Close()
	})
}

// Close tears the connection down when the hub drops this subscriber,
// so the peer is not left holding a half-dead socket.
func (c *wsClient) Close() { c.close() }

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is detecting disconnects and
// answering pings.
func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
