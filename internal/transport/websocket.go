package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/refiner/pkg/types"
)

// writeTimeout bounds a single websocket write so a stalled client cannot
// block the broadcast loop.
const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // same-origin or non-browser client
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		// local dashboards
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// EventSource publishes run events.
type EventSource interface {
	Subscribe() (<-chan types.Event, func())
}

// WebSocketServer pushes run events to connected clients.
type WebSocketServer struct {
	status StatusProvider
	events EventSource
	logger *slog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	unsubscribe func()
	done        chan struct{}
	stopOnce    sync.Once
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(status StatusProvider, events EventSource, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		status:  status,
		events:  events,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler. Each new client first receives
// a snapshot event, then every run event as it happens.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		// Registration and the snapshot happen under the write lock so the
		// snapshot cannot interleave with a broadcast.
		ws.clientsMu.Lock()
		ws.clients[conn] = true
		if ws.status != nil {
			snap := ws.status.Snapshot()
			ws.writeEvent(conn, types.Event{
				Type:     types.EventSnapshot,
				RunID:    snap.RunID,
				Time:     time.Now(),
				Snapshot: &snap,
			})
		}
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read until the client goes away (pings, close frames).
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins forwarding events to clients.
func (ws *WebSocketServer) Start() {
	if ws.events == nil {
		return
	}
	ch, unsubscribe := ws.events.Subscribe()
	ws.unsubscribe = unsubscribe
	go ws.broadcastLoop(ch)
}

// Stop stops forwarding and closes all client connections.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)
		if ws.unsubscribe != nil {
			ws.unsubscribe()
		}

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.clientsMu.Unlock()
	})
}

func (ws *WebSocketServer) broadcastLoop(events <-chan types.Event) {
	for {
		select {
		case <-ws.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ws.broadcast(ev)
		}
	}
}

func (ws *WebSocketServer) broadcast(ev types.Event) {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		ws.writeEvent(conn, ev)
	}
}

func (ws *WebSocketServer) writeEvent(conn *websocket.Conn, ev types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		ws.logger.Error("Failed to marshal event", slog.String("error", err.Error()))
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// cleaned up by the read loop
		ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
