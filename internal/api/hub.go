package api

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxStreamClients = 100

// StatsHub manages the /stats/stream WebSocket clients and broadcasts the
// harvester stats payload on a fixed cadence. One loop collects and fans out
// to every client; connections never run their own timers.
type StatsHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	collect    func(ctx context.Context) interface{}
	logger     *zap.Logger
}

// NewStatsHub creates a hub; collect builds the payload sent to every client.
func NewStatsHub(collect func(ctx context.Context) interface{}, logger *zap.Logger) *StatsHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		collect:    collect,
		logger:     logger,
	}
}

// Run starts the hub's main loop and broadcasts every 5 seconds.
func (h *StatsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamClients {
				h.mu.Unlock()
				conn.Close()
				h.logger.Warn("stream connection rejected, client cap reached",
					zap.Int("cap", maxStreamClients))
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("stream client registered", zap.Int("total", total))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("stream client unregistered", zap.Int("total", total))

		case <-ticker.C:
			h.broadcastAll(ctx)
		}
	}
}

func (h *StatsHub) broadcastAll(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	payload := h.collect(ctx)
	for conn := range h.clients {
		// Write deadline keeps a dead connection from blocking the loop.
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Warn("stream write failed", zap.Error(err))
			go h.Unregister(conn)
		}
	}
}

func (h *StatsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Info("shutting down stats hub", zap.Int("clients", len(h.clients)))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a client connection.
func (h *StatsHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *StatsHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *StatsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
