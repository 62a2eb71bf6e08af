package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"OmniSpectrum/internal/domain/models"
	domrepo "OmniSpectrum/internal/domain/repository"
	"OmniSpectrum/internal/service/metrics"
	applogger "OmniSpectrum/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsSendBuffer = 8
)

// WSMessage is the envelope pushed to dashboards.
type WSMessage struct {
	Type  string                 `json:"type"`
	RunID string                 `json:"run_id,omitempty"`
	Data  *models.ForecastOutput `json:"data"`
}

// wsClient owns one connection. Only writeLoop writes to conn; everyone else
// hands messages over through send.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), done: make(chan struct{})}
}

// enqueue queues data without blocking. It reports false when the client is
// gone or its buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) writeLoop(ping time.Duration, l *applogger.Logger) {
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.writeFrame(websocket.TextMessage, msg); err != nil {
				l.Warn("websocket send failed", applogger.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) writeFrame(msgType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(msgType, data)
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub fans finished forecasts out to connected dashboards. It is a
// ForecastSink so the pipeline pushes to it like any other store.
type Hub struct {
	l        *applogger.Logger
	latest   domrepo.LatestForecastReader
	ping     time.Duration
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub builds a hub. latest may be nil; when set, new connections receive
// the stored document immediately.
func NewHub(l *applogger.Logger, latest domrepo.LatestForecastReader, pingInterval time.Duration) *Hub {
	if l == nil {
		l = applogger.Nop()
	}
	if pingInterval <= 0 || pingInterval >= wsPongWait {
		pingInterval = 30 * time.Second
	}
	metrics.Register()
	return &Hub{
		l:      l,
		latest: latest,
		ping:   pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Serve upgrades the request and blocks until the client goes away.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.l.Warn("websocket upgrade failed", applogger.String("remote", c.RealIP()), applogger.Error(err))
		return nil
	}
	client := newWSClient(conn)
	if h.latest != nil {
		if out, err := h.latest.Latest(c.Request().Context()); err == nil {
			if b, err := json.Marshal(WSMessage{Type: "snapshot", Data: out}); err == nil {
				client.enqueue(b)
			}
		}
	}
	h.add(client)
	defer h.remove(client)
	go client.writeLoop(h.ping, h.l)

	// read loop; dashboards only send control frames
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
	h.l.Debug("websocket client connected", applogger.Int("clients", n))
}

func (h *Hub) remove(c *wsClient) {
	c.close()
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Write queues out for every client and returns without waiting for any
// socket. A client whose buffer is full is disconnected; delivery failures
// are never returned to the pipeline.
func (h *Hub) Write(_ context.Context, runID string, out *models.ForecastOutput) error {
	b, err := json.Marshal(WSMessage{Type: "forecast", RunID: runID, Data: out})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(b) {
			h.l.Warn("websocket client too slow, disconnecting", applogger.Int("buffer", wsSendBuffer))
			c.close()
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.close()
	}
	return nil
}
