// Package bridge fans spoken output out to renderer clients over
// websockets. The hub implements the speech-sink contract: speak frames are
// broadcast to every connected renderer, and stop-all halts everything that
// is currently playing, whatever enqueued it.
package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/repositories"
	"github.com/aituberlink/core/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Renderers only send small
	// control frames.
	maxMessageSize = 8 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The bridge is a local surface; the JWT gate does the real check.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type sessionCallbacks struct {
	onStart    func()
	onComplete func()
}

// Hub maintains the set of active renderer clients and broadcasts speech
// control frames to them.
type Hub struct {
	// Registered clients by renderer id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu sync.RWMutex

	// Pending per-session callbacks, resolved by renderer reports.
	pendingMu sync.Mutex
	pending   map[string]sessionCallbacks

	logger *zap.Logger
}

var _ repositories.SpeechSink = (*Hub)(nil)

// NewHub creates a new renderer bridge hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		pending:    make(map[string]sessionCallbacks),
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.rendererID] = client
			h.mu.Unlock()
			h.logger.Info("Renderer registered", zap.String("rendererID", client.rendererID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.rendererID]; ok {
				delete(h.clients, client.rendererID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Renderer unregistered", zap.String("rendererID", client.rendererID))
		}
	}
}

// Speak broadcasts one utterance to every connected renderer. With no
// renderer attached the callbacks fire immediately so dispatch accounting
// stays consistent.
func (h *Hub) Speak(sessionID string, u repositories.Utterance, onStart func(), onComplete func()) {
	frame, err := json.Marshal(speakFrame{
		Type:      frameSpeak,
		SessionID: sessionID,
		Emotion:   string(u.Emotion),
		Text:      u.Text,
	})
	if err != nil {
		h.logger.Error("Failed to marshal speak frame", zap.Error(err))
		return
	}

	if h.broadcast(frame) == 0 {
		h.logger.Warn("No renderer connected, speech dropped",
			zap.String("sessionID", sessionID))
		if onStart != nil {
			onStart()
		}
		if onComplete != nil {
			onComplete()
		}
		return
	}

	h.pendingMu.Lock()
	h.pending[sessionID] = sessionCallbacks{onStart: onStart, onComplete: onComplete}
	h.pendingMu.Unlock()
}

// StopAll halts all in-flight and queued output on every renderer. Pending
// completions for interrupted sessions are discarded, not invoked.
func (h *Hub) StopAll() {
	frame, _ := json.Marshal(stopAllFrame{Type: frameStopAll})
	h.broadcast(frame)

	h.pendingMu.Lock()
	n := len(h.pending)
	h.pending = make(map[string]sessionCallbacks)
	h.pendingMu.Unlock()

	if n > 0 {
		h.logger.Info("Stopped all speech", zap.Int("interrupted_sessions", n))
	}
}

// broadcast sends one frame to every client, dropping it for clients whose
// send buffer is full, and returns how many clients were reached.
func (h *Hub) broadcast(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	reached := 0
	for id, client := range h.clients {
		select {
		case client.send <- frame:
			reached++
		default:
			h.logger.Warn("Renderer send buffer full, dropping frame",
				zap.String("rendererID", id))
		}
	}
	return reached
}

// resolve runs the pending callback for one session.
func (h *Hub) resolve(sessionID string, started bool) {
	h.pendingMu.Lock()
	cb, ok := h.pending[sessionID]
	if ok && !started {
		delete(h.pending, sessionID)
	}
	h.pendingMu.Unlock()

	if !ok {
		return
	}
	if started {
		if cb.onStart != nil {
			cb.onStart()
		}
		return
	}
	if cb.onComplete != nil {
		cb.onComplete()
	}
}

// Client is a middleman between a renderer websocket and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	rendererID string

	logger *zap.Logger
}

// HandleWebSocket upgrades a renderer connection after validating its
// bridge token.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	claims, err := auth.ValidateToken(c.QueryParam("token"))
	if err != nil {
		logger.Warn("Renderer token rejected", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid bridge token")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		rendererID: claims.RendererID,
		logger:     logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps renderer reports from the websocket to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.processReport(message)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processReport handles one renderer report frame.
func (c *Client) processReport(message []byte) {
	var report rendererReport
	if err := json.Unmarshal(message, &report); err != nil {
		c.logger.Warn("Failed to parse renderer report", zap.Error(err))
		return
	}

	switch report.Type {
	case reportSpeakStarted:
		c.hub.resolve(report.SessionID, true)
	case reportSpeakDone:
		c.hub.resolve(report.SessionID, false)
	default:
		c.logger.Warn("Unknown renderer report", zap.String("type", report.Type))
	}
}
